package sshgw

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

const gatewaySecret = "gw-secret"

func startGateway(t *testing.T) string {
	t.Helper()

	store := storage.NewMemoryStore()
	if err := store.CreateDevice(context.Background(), &storage.Device{
		Name: "edge1", Host: "192.0.2.1", DeviceType: "IOS_XE",
		Transport: "ssh", Port: 22, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := transport.NewRegistry()
	registry.Register(&transport.MockTransport{
		Responses: map[string]map[string]string{
			"edge1": {"show clock": "10:00:00.000 UTC Mon Jan 5 2026"},
		},
	})
	sessions := transport.NewManager(registry, time.Minute, logger)
	t.Cleanup(sessions.Stop)

	gw := NewGateway(config.SSHGwConfig{
		Enabled:      true,
		PasswordHash: config.HashSecret(gatewaySecret),
	}, "svc123", store, sessions, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go gw.Serve(ln)
	t.Cleanup(func() { gw.Shutdown(context.Background()) })
	return ln.Addr().String()
}

func dialGateway(t *testing.T, addr, user, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestGatewayRejectsBadPassword(t *testing.T) {
	addr := startGateway(t)
	if _, err := dialGateway(t, addr, "edge1", "wrong"); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestGatewayAttachesDeviceShell(t *testing.T) {
	addr := startGateway(t)

	client, err := dialGateway(t, addr, "edge1", gatewaySecret)
	if err != nil {
		t.Fatalf("dialing gateway: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("opening session: %v", err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("starting shell: %v", err)
	}

	readUntil := func(want string) string {
		var sb strings.Builder
		buf := make([]byte, 256)
		deadline := time.After(5 * time.Second)
		for !strings.Contains(sb.String(), want) {
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for %q, got %q", want, sb.String())
			default:
			}
			n, err := stdout.Read(buf)
			if n > 0 {
				sb.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		return sb.String()
	}

	readUntil("router#")
	if _, err := io.WriteString(stdin, "show clock\n"); err != nil {
		t.Fatal(err)
	}
	out := readUntil("10:00:00.000 UTC")
	if !strings.Contains(out, "10:00:00.000 UTC") {
		t.Errorf("device output missing: %q", out)
	}
	stdin.Close()
}

func TestDeviceFromUser(t *testing.T) {
	gw := &Gateway{serial: "svc123"}

	tests := []struct {
		user    string
		want    string
		wantErr bool
	}{
		{"edge1", "edge1", false},
		{"edge1@svc123", "edge1", false},
		{"edge1@SVC123", "edge1", false},
		{"edge1@other", "", true},
		{"@svc123", "", true},
	}
	for _, tt := range tests {
		got, err := gw.deviceFromUser(tt.user)
		if (err != nil) != tt.wantErr {
			t.Errorf("deviceFromUser(%q) error = %v, wantErr %v", tt.user, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("deviceFromUser(%q) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

func TestGatewayUnknownDevice(t *testing.T) {
	addr := startGateway(t)

	client, err := dialGateway(t, addr, "ghost", gatewaySecret)
	if err != nil {
		t.Fatalf("dialing gateway: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	var stderr strings.Builder
	sess.Stderr = &stderr
	err = sess.Run("")
	if err == nil {
		t.Fatal("expected non-zero exit for unknown device")
	}
	if !strings.Contains(stderr.String(), "unknown device") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
