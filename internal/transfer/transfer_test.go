package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	gssh "github.com/gliderlabs/ssh"
	"github.com/pkg/sftp"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

// startSSHServer runs an in-process SSH server with an sftp subsystem
// and an scp sink, standing in for a device.
func startSSHServer(t *testing.T) (string, int) {
	t.Helper()

	srv := &gssh.Server{
		PasswordHandler: func(ctx gssh.Context, password string) bool {
			return ctx.User() == "admin" && password == "secret"
		},
		Handler: scpSink(t),
		SubsystemHandlers: map[string]gssh.SubsystemHandler{
			"sftp": func(s gssh.Session) {
				server, err := sftp.NewServer(s)
				if err != nil {
					return
				}
				server.Serve()
			},
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// scpSink implements just enough of "scp -t" to accept one file.
func scpSink(t *testing.T) gssh.Handler {
	return func(s gssh.Session) {
		cmd := s.Command()
		if len(cmd) < 3 || cmd[0] != "scp" || cmd[1] != "-t" {
			fmt.Fprintf(s.Stderr(), "unsupported command %v\n", cmd)
			s.Exit(1)
			return
		}
		dir := cmd[2]

		r := bufio.NewReader(s)
		s.Write([]byte{0})

		header, err := r.ReadString('\n')
		if err != nil {
			s.Exit(1)
			return
		}
		parts := strings.SplitN(strings.TrimSpace(header), " ", 3)
		if len(parts) != 3 || !strings.HasPrefix(parts[0], "C") {
			s.Exit(1)
			return
		}
		size, err := strconv.Atoi(parts[1])
		if err != nil {
			s.Exit(1)
			return
		}
		s.Write([]byte{0})

		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			s.Exit(1)
			return
		}
		// Trailing status byte from the sender.
		r.ReadByte()

		if err := os.WriteFile(filepath.Join(dir, parts[2]), data, 0o644); err != nil {
			s.Write([]byte{1})
			s.Exit(1)
			return
		}
		s.Write([]byte{0})
		s.Exit(0)
	}
}

func newTransferFixture(t *testing.T) (*Service, string) {
	t.Helper()
	host, port := startSSHServer(t)

	store := storage.NewMemoryStore()
	if err := store.CreateDevice(context.Background(), &storage.Device{
		Name: "edge1", Host: host, DeviceType: "LINUX",
		Transport: "ssh", Port: port, Enabled: true,
		Username: "admin", Password: "secret",
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDevice(context.Background(), &storage.Device{
		Name: "legacy", Host: host, DeviceType: "IOS",
		Transport: "telnet", Port: 23, Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	svc := NewService(store, transport.Options{
		ConnectTimeout:   5 * time.Second,
		InsecureHostKeys: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, t.TempDir()
}

func TestSFTPUploadDownload(t *testing.T) {
	svc, dir := newTransferFixture(t)
	remotePath := filepath.Join(dir, "configs", "startup.cfg")
	payload := []byte("hostname edge1\nend\n")

	res, err := svc.Upload(context.Background(), "edge1", ProtocolSFTP, remotePath, payload)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if res.Bytes != int64(len(payload)) || res.Protocol != ProtocolSFTP {
		t.Errorf("result = %+v", res)
	}

	onDisk, err := os.ReadFile(remotePath)
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if string(onDisk) != string(payload) {
		t.Errorf("file content = %q", onDisk)
	}

	back, err := svc.Download(context.Background(), "edge1", ProtocolSFTP, remotePath)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if string(back) != string(payload) {
		t.Errorf("downloaded = %q", back)
	}
}

func TestSCPUpload(t *testing.T) {
	svc, dir := newTransferFixture(t)
	remotePath := filepath.Join(dir, "image.bin")
	payload := []byte("firmware bytes")

	res, err := svc.Upload(context.Background(), "edge1", ProtocolSCP, remotePath, payload)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if res.Protocol != ProtocolSCP {
		t.Errorf("protocol = %s", res.Protocol)
	}

	onDisk, err := os.ReadFile(remotePath)
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if string(onDisk) != string(payload) {
		t.Errorf("file content = %q", onDisk)
	}
}

func TestUploadValidation(t *testing.T) {
	svc, dir := newTransferFixture(t)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "edge1", ProtocolSFTP, "", []byte("x")); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("missing path kind = %s", errs.KindOf(err))
	}
	if _, err := svc.Upload(ctx, "edge1", "ftp", filepath.Join(dir, "f"), []byte("x")); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("bad protocol kind = %s", errs.KindOf(err))
	}
	if _, err := svc.Upload(ctx, "legacy", ProtocolSFTP, filepath.Join(dir, "f"), []byte("x")); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("telnet device kind = %s", errs.KindOf(err))
	}
	if _, err := svc.Upload(ctx, "ghost", ProtocolSFTP, filepath.Join(dir, "f"), []byte("x")); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("unknown device kind = %s", errs.KindOf(err))
	}
}

func TestDownloadRequiresSFTP(t *testing.T) {
	svc, dir := newTransferFixture(t)
	if _, err := svc.Download(context.Background(), "edge1", ProtocolSCP, filepath.Join(dir, "f")); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("scp download kind = %s", errs.KindOf(err))
	}
}
