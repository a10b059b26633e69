package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

var (
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("not connected")
	// ErrUnsupported is returned when a transport cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by transport")
)

// Session is a live connection to one device.
type Session interface {
	// Device returns the device this session is bound to.
	Device() *storage.Device
	// Shell returns the interactive byte stream. At most one shell is open
	// per session; a second call returns the same stream.
	Shell(ctx context.Context) (io.ReadWriteCloser, error)
	// Run executes a single command outside the interactive shell. Network
	// CLIs that only speak through a shell return ErrUnsupported.
	Run(ctx context.Context, command string) (string, error)
	// Close tears the connection down.
	Close() error
}

// Transport connects to devices over one access protocol.
type Transport interface {
	// Scheme returns the transport name used in device records.
	Scheme() string
	// Connect opens a session to the device.
	Connect(ctx context.Context, d *storage.Device) (Session, error)
}

// Registry holds all registered transports by scheme.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Scheme()] = t
}

func (r *Registry) Get(scheme string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[scheme]
	if !ok {
		return nil, fmt.Errorf("no transport registered for scheme: %s", scheme)
	}
	return t, nil
}

// deviceAddr joins the device's host and port, falling back to the
// scheme's well-known port when the record does not set one.
func deviceAddr(d *storage.Device, defaultPort int) string {
	port := d.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// DefaultRegistry creates a registry with the built-in transports.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(&SSHTransport{Options: opts})
	r.Register(&TelnetTransport{Options: opts})
	return r
}
