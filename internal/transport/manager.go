package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/terminal"
)

// Manager caches one session per device and reaps sessions that sit
// idle past the configured timeout.
type Manager struct {
	registry    *Registry
	logger      *slog.Logger
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*managedSession

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type managedSession struct {
	id       string
	session  Session
	lastUsed time.Time
	refs     int

	// The shell stream has a single reader, so every user of this
	// session must go through the same engine.
	engineOnce sync.Once
	engine     *terminal.Engine
	engineErr  error
}

func NewManager(registry *Registry, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		registry:    registry,
		logger:      logger,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*managedSession),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the idle reaper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		interval := m.idleTimeout / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
}

// Acquire returns a live session for the device, opening one if none is
// cached. Callers must Release with the returned id when done.
func (m *Manager) Acquire(ctx context.Context, d *storage.Device) (Session, string, error) {
	m.mu.Lock()
	if ms, ok := m.sessions[d.Name]; ok {
		ms.refs++
		ms.lastUsed = time.Now()
		m.mu.Unlock()
		return ms.session, ms.id, nil
	}
	m.mu.Unlock()

	tr, err := m.registry.Get(d.Transport)
	if err != nil {
		return nil, "", err
	}
	sess, err := tr.Connect(ctx, d)
	if err != nil {
		return nil, "", fmt.Errorf("connecting to %s: %w", d.Name, err)
	}

	id := uuid.NewString()
	m.mu.Lock()
	// Lost a race with another caller; keep theirs and drop ours.
	if ms, ok := m.sessions[d.Name]; ok {
		m.mu.Unlock()
		sess.Close()
		m.mu.Lock()
		ms.refs++
		ms.lastUsed = time.Now()
		m.mu.Unlock()
		return ms.session, ms.id, nil
	}
	m.sessions[d.Name] = &managedSession{
		id:       id,
		session:  sess,
		lastUsed: time.Now(),
		refs:     1,
	}
	m.mu.Unlock()

	m.logger.Debug("session opened", "device", d.Name, "session_id", id, "transport", d.Transport)
	return sess, id, nil
}

// Engine returns the terminal engine bound to the device's cached
// session, opening the shell on first use. Callers must hold an
// Acquire on the device; on error they should Evict, since the shell
// could not be opened and the session is of no further use.
func (m *Manager) Engine(ctx context.Context, deviceName string) (*terminal.Engine, error) {
	m.mu.Lock()
	ms, ok := m.sessions[deviceName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no cached session for %s", deviceName)
	}
	ms.engineOnce.Do(func() {
		shell, err := ms.session.Shell(ctx)
		if err != nil {
			ms.engineErr = err
			return
		}
		ms.engine = terminal.NewEngine(shell)
	})
	if ms.engineErr != nil {
		return nil, ms.engineErr
	}
	return ms.engine, nil
}

// Release marks a session no longer in use. The session stays cached
// until the idle reaper or Evict closes it.
func (m *Manager) Release(deviceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.sessions[deviceName]; ok {
		if ms.refs > 0 {
			ms.refs--
		}
		ms.lastUsed = time.Now()
	}
}

// Evict closes and forgets the cached session for a device, typically
// after a transport error made it unusable.
func (m *Manager) Evict(deviceName string) {
	m.mu.Lock()
	ms, ok := m.sessions[deviceName]
	if ok {
		delete(m.sessions, deviceName)
	}
	m.mu.Unlock()
	if ok {
		ms.session.Close()
		m.logger.Debug("session evicted", "device", deviceName, "session_id", ms.id)
	}
}

// ActiveCount returns the number of cached sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)
	var expired []*managedSession
	m.mu.Lock()
	for name, ms := range m.sessions {
		if ms.refs == 0 && ms.lastUsed.Before(cutoff) {
			delete(m.sessions, name)
			expired = append(expired, ms)
		}
	}
	m.mu.Unlock()
	for _, ms := range expired {
		ms.session.Close()
		m.logger.Debug("idle session closed", "device", ms.session.Device().Name, "session_id", ms.id)
	}
}

// Stop halts the reaper and closes every cached session.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()
	for _, ms := range sessions {
		ms.session.Close()
	}
}
