// Package forward exposes single device ports on local TCP listeners.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Forward states reported to clients.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
)

// Forward is one active local-to-device port forward.
type Forward struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name"`
	LocalAddr  string    `json:"local_addr"`
	RemotePort int       `json:"remote_port"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`

	listener net.Listener
	cancel   context.CancelFunc
}

// Manager owns all active forwards.
type Manager struct {
	store  storage.Store
	logger *slog.Logger

	mu       sync.Mutex
	forwards map[string]*Forward
}

func NewManager(store storage.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger,
		forwards: make(map[string]*Forward),
	}
}

// Start opens a forward from a local port to the device. localPort 0
// picks a free port. In dry-run mode the request is validated and the
// would-be forward described without binding anything.
func (m *Manager) Start(ctx context.Context, deviceName string, localPort, remotePort int, dryRun bool) (*Forward, error) {
	d, err := m.store.GetDeviceByName(ctx, deviceName)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, fmt.Errorf("device %q: %w", deviceName, err))
	}
	if !d.Enabled {
		return nil, errs.Connectionf("device %q is disabled", deviceName)
	}
	if remotePort < 1 || remotePort > 65535 {
		return nil, errs.Validationf("remote port %d out of range", remotePort)
	}
	if len(d.ForwardedTCPPorts) > 0 && !contains(d.ForwardedTCPPorts, remotePort) {
		return nil, errs.Validationf("port %d is not forwarded for device %q", remotePort, deviceName)
	}

	if dryRun {
		return &Forward{
			ID:         "",
			DeviceName: deviceName,
			LocalAddr:  fmt.Sprintf("127.0.0.1:%d", localPort),
			RemotePort: remotePort,
			State:      StateStarting,
		}, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return nil, errs.Connectionf("binding local port %d: %s", localPort, err)
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	f := &Forward{
		ID:         uuid.NewString(),
		DeviceName: deviceName,
		LocalAddr:  ln.Addr().String(),
		RemotePort: remotePort,
		State:      StateRunning,
		StartedAt:  time.Now().UTC(),
		listener:   ln,
		cancel:     cancel,
	}

	m.mu.Lock()
	m.forwards[f.ID] = f
	m.mu.Unlock()

	target := fmt.Sprintf("%s:%d", d.Host, remotePort)
	go m.serve(fwdCtx, f, target)

	m.logger.Info("port forward started",
		"id", f.ID, "device", deviceName,
		"local", f.LocalAddr, "remote", target)
	return f, nil
}

func (m *Manager) serve(ctx context.Context, f *Forward, target string) {
	go func() {
		<-ctx.Done()
		f.listener.Close()
	}()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				m.logger.Warn("forward accept failed", "id", f.ID, "error", err)
			}
			m.markStopped(f.ID)
			return
		}
		go m.tunnel(ctx, f, conn, target)
	}
}

func (m *Manager) tunnel(ctx context.Context, f *Forward, client net.Conn, target string) {
	defer client.Close()

	remote, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", target)
	if err != nil {
		m.logger.Warn("forward dial failed", "id", f.ID, "target", target, "error", err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, remote)
		done <- struct{}{}
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) markStopped(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.forwards[id]; ok {
		f.State = StateStopped
	}
}

// Stop tears one forward down.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	f, ok := m.forwards[id]
	if ok {
		delete(m.forwards, id)
	}
	m.mu.Unlock()
	if !ok {
		return errs.Wrap(errs.KindNotFound, fmt.Errorf("forward %q: %w", id, storage.ErrNotFound))
	}
	f.cancel()
	f.State = StateStopped
	m.logger.Info("port forward stopped", "id", id, "device", f.DeviceName)
	return nil
}

// List returns the active forwards.
func (m *Manager) List() []*Forward {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Forward, 0, len(m.forwards))
	for _, f := range m.forwards {
		out = append(out, f)
	}
	return out
}

// StopAll tears every forward down, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	forwards := m.forwards
	m.forwards = make(map[string]*Forward)
	m.mu.Unlock()
	for _, f := range forwards {
		f.cancel()
		f.State = StateStopped
	}
}

func contains(ports []int, p int) bool {
	for _, v := range ports {
		if v == p {
			return true
		}
	}
	return false
}
