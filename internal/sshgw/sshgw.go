// Package sshgw is an SSH front door to the inventory: clients log in
// as "<user>@gateway" with the device name as the SSH user and get a
// terminal on that device.
package sshgw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	gssh "github.com/gliderlabs/ssh"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

// Gateway terminates inbound SSH and splices sessions onto device
// shells.
type Gateway struct {
	cfg      config.SSHGwConfig
	serial   string
	store    storage.Store
	sessions *transport.Manager
	logger   *slog.Logger

	mu     sync.Mutex
	server *gssh.Server
}

func NewGateway(cfg config.SSHGwConfig, serial string, store storage.Store, sessions *transport.Manager, logger *slog.Logger) *Gateway {
	return &Gateway{cfg: cfg, serial: serial, store: store, sessions: sessions, logger: logger}
}

// Serve accepts SSH connections on l until Shutdown.
func (g *Gateway) Serve(l net.Listener) error {
	srv := &gssh.Server{
		Handler:         g.handle,
		PasswordHandler: g.authenticate,
	}
	if g.cfg.HostKeyPath != "" {
		if err := gssh.HostKeyFile(g.cfg.HostKeyPath)(srv); err != nil {
			return fmt.Errorf("loading host key %s: %w", g.cfg.HostKeyPath, err)
		}
	}

	g.mu.Lock()
	g.server = srv
	g.mu.Unlock()
	return srv.Serve(l)
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	g.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// authenticate checks the gateway secret. The SSH username selects the
// device, so it plays no part in authentication.
func (g *Gateway) authenticate(ctx gssh.Context, password string) bool {
	if g.cfg.PasswordHash == "" {
		return false
	}
	ok := config.VerifySecret(password, g.cfg.PasswordHash)
	if !ok {
		g.logger.Warn("ssh gateway auth failed", "user", ctx.User(), "remote", ctx.RemoteAddr())
	}
	return ok
}

// deviceFromUser resolves the SSH username forms "<device>" and
// "<device>@<serial>".
func (g *Gateway) deviceFromUser(user string) (string, error) {
	name, serial, found := strings.Cut(user, "@")
	if name == "" {
		return "", fmt.Errorf("empty device name in user %q", user)
	}
	if found && !strings.EqualFold(serial, g.serial) {
		return "", fmt.Errorf("user %q names a different service", user)
	}
	return name, nil
}

func (g *Gateway) handle(s gssh.Session) {
	deviceName, err := g.deviceFromUser(s.User())
	if err != nil {
		fmt.Fprintf(s.Stderr(), "%s\r\n", err)
		s.Exit(1)
		return
	}
	logger := g.logger.With("device", deviceName, "remote", s.RemoteAddr())

	d, err := g.store.GetDeviceByName(s.Context(), deviceName)
	if err != nil {
		fmt.Fprintf(s.Stderr(), "unknown device %q\r\n", deviceName)
		s.Exit(1)
		return
	}
	if !d.Enabled {
		fmt.Fprintf(s.Stderr(), "device %q is disabled\r\n", deviceName)
		s.Exit(1)
		return
	}

	ctx, cancel := context.WithTimeout(s.Context(), 30*time.Second)
	sess, _, err := g.sessions.Acquire(ctx, d)
	cancel()
	if err != nil {
		logger.Warn("device connection failed", "error", err)
		fmt.Fprintf(s.Stderr(), "cannot reach device: %s\r\n", err)
		s.Exit(1)
		return
	}
	defer g.sessions.Release(d.Name)

	shell, err := sess.Shell(s.Context())
	if err != nil {
		g.sessions.Evict(d.Name)
		fmt.Fprintf(s.Stderr(), "cannot open shell: %s\r\n", err)
		s.Exit(1)
		return
	}

	logger.Info("ssh gateway session attached")
	splice(s, shell)
	// The shell position is unknown after an interactive session, so
	// the cached session must not be reused for command runs.
	g.sessions.Evict(d.Name)
	logger.Info("ssh gateway session detached")
	s.Exit(0)
}

// splice pumps bytes both ways until either side closes.
func splice(client gssh.Session, device io.ReadWriteCloser) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(device, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, device)
		done <- struct{}{}
	}()
	select {
	case <-done:
	case <-client.Context().Done():
	}
	device.Close()
}
