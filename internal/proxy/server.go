package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/internal/config"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

// Status describes the proxy pair as reported to clients.
type Status struct {
	Running   bool   `json:"running"`
	HTTPAddr  string `json:"http_addr,omitempty"`
	SOCKSAddr string `json:"socks_addr,omitempty"`
	AuthOn    bool   `json:"auth_enabled"`
}

// Server runs the HTTP and SOCKS proxy pair.
type Server struct {
	cfg      config.ProxyConfig
	resolver *Resolver
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	socks     *SOCKSServer
	httpProxy *HTTPProxy
	socksAddr string
	httpAddr  string
	errCh     chan error
}

func NewServer(cfg config.ProxyConfig, store storage.Store, serial string, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		resolver: NewResolver(store, serial, cfg.AllowedHosts),
		logger:   logger,
		errCh:    make(chan error, 2),
	}
}

// Start binds both listeners and begins serving. In dry-run mode the
// ports are validated by binding and releasing them without serving,
// reporting what would happen.
func (s *Server) Start(dryRun bool) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, errors.New("proxy already running")
	}

	socksLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.SOCKSPort))
	if err != nil {
		return nil, fmt.Errorf("binding socks port %d: %w", s.cfg.SOCKSPort, err)
	}
	httpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HTTPPort))
	if err != nil {
		socksLn.Close()
		return nil, fmt.Errorf("binding http port %d: %w", s.cfg.HTTPPort, err)
	}

	if dryRun {
		socksLn.Close()
		httpLn.Close()
		return &Status{
			Running:   false,
			HTTPAddr:  httpLn.Addr().String(),
			SOCKSAddr: socksLn.Addr().String(),
			AuthOn:    s.cfg.Username != "",
		}, nil
	}

	verify := func(pw string) bool {
		return config.VerifySecret(pw, s.cfg.PasswordHash)
	}
	chain := uuid.NewString()
	socksCreds := Credentials{
		Username: s.cfg.Username,
		Verify: func(pw string) bool {
			return pw == chain || verify(pw)
		},
	}
	httpCreds := Credentials{
		Username:    s.cfg.Username,
		Verify:      verify,
		chainSecret: chain,
	}

	s.socks = NewSOCKSServer(s.resolver, socksCreds, s.logger)
	s.httpProxy = NewHTTPProxy(socksLn.Addr().String(), httpCreds, s.logger)
	s.socksAddr = socksLn.Addr().String()
	s.httpAddr = httpLn.Addr().String()
	s.running = true

	go func() {
		if err := s.socks.Serve(socksLn); err != nil && !errors.Is(err, net.ErrClosed) {
			s.errCh <- err
		}
	}()
	go func() {
		if err := s.httpProxy.Serve(httpLn); err != nil &&
			!errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()

	s.logger.Info("proxy pair started",
		"http_addr", s.httpAddr,
		"socks_addr", s.socksAddr,
		"auth", s.cfg.Username != "")

	return s.statusLocked(), nil
}

// Err exposes fatal serve errors for the main loop to watch.
func (s *Server) Err() <-chan error { return s.errCh }

// Status reports the current state of the pair.
func (s *Server) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Server) statusLocked() *Status {
	if !s.running {
		return &Status{Running: false, AuthOn: s.cfg.Username != ""}
	}
	return &Status{
		Running:   true,
		HTTPAddr:  s.httpAddr,
		SOCKSAddr: s.socksAddr,
		AuthOn:    s.cfg.Username != "",
	}
}

// Stop shuts both frontends down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var firstErr error
	if err := s.httpProxy.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.socks.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
