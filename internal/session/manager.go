package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/types"
)

// ErrSessionActive is returned by Manager.Start when a session is
// already running; only one session is ever active at a time.
var ErrSessionActive = errors.New("session: a session is already active")

// Manager enforces the single-active-session policy and exposes the
// public start/stop/request-IDR surface (C9).
type Manager struct {
	log zerolog.Logger

	mu      sync.Mutex
	active  *Session
}

// NewManager constructs an empty Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Start builds and launches a new session. Returns ErrSessionActive if
// one is already running.
func (m *Manager) Start(ctx context.Context, params types.SessionParameters) (*Session, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.mu.Unlock()

	sess, err := Build(m.log, params)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active = sess
	m.mu.Unlock()

	go m.clearOnStop(sess)

	return sess, nil
}

// clearOnStop releases m.active once sess tears down, including when a
// session stops itself (client timeout/terminate, pipeline failure) via
// its own shutdown supervisor rather than through Manager.Stop.
func (m *Manager) clearOnStop(sess *Session) {
	<-sess.Done()
	m.mu.Lock()
	if m.active == sess {
		m.active = nil
	}
	m.mu.Unlock()
}

// Stop idempotently tears down the active session, if any, and clears it.
func (m *Manager) Stop(reason types.ShutdownReason) types.ShutdownReason {
	m.mu.Lock()
	sess := m.active
	m.active = nil
	m.mu.Unlock()

	if sess == nil {
		return types.ShutdownNone
	}
	return sess.Stop(reason)
}

// RequestIDR forwards to the active session's encoder, if any.
func (m *Manager) RequestIDR() {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess != nil {
		sess.RequestIDR()
	}
}

// Active returns the currently running session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
