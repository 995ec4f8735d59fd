// Package shutdown implements the session-wide shutdown coordination
// primitive: a first-writer-wins reason cell, a broadcast signal every
// worker can subscribe to, and a quiescence wait that resolves once all
// registered workers have exited.
package shutdown

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/riftcast/moonshine/internal/types"
)

// Manager coordinates the teardown of a session's four pipelines. The
// zero value is not usable; construct with New.
type Manager struct {
	log zerolog.Logger

	mu     sync.Mutex
	reason types.ShutdownReason
	isSet  bool
	signal chan struct{} // closed exactly once, on the first set_reason

	wg sync.WaitGroup
}

// New creates a Manager ready to accept subscriptions and workers.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		log:    log.With().Str("component", "shutdown").Logger(),
		signal: make(chan struct{}),
	}
}

// SetReason records reason if no reason has been set yet and broadcasts
// the shutdown signal to every subscriber. Subsequent calls are ignored
// but logged, per spec invariant 6 (a shutdown reason, once set, is
// immutable).
func (m *Manager) SetReason(reason types.ShutdownReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isSet {
		m.log.Debug().
			Stringer("ignored_reason", reason).
			Stringer("active_reason", m.reason).
			Msg("shutdown reason already set")
		return
	}

	m.reason = reason
	m.isSet = true
	close(m.signal)
	m.log.Info().Stringer("reason", reason).Msg("shutdown initiated")
}

// Reason returns the current reason and whether one has been set.
func (m *Manager) Reason() (types.ShutdownReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason, m.isSet
}

// Subscribe returns a channel that is closed once a shutdown reason is
// set. Every worker should select on this alongside its own work.
func (m *Manager) Subscribe() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// Track registers one live worker; call the returned func exactly once
// when that worker has fully exited. WaitQuiescent resolves once every
// tracked worker has called its release func.
func (m *Manager) Track() (release func()) {
	m.wg.Add(1)
	var once sync.Once
	return func() {
		once.Do(m.wg.Done)
	}
}

// WaitQuiescent blocks until every tracked worker has released.
func (m *Manager) WaitQuiescent() {
	m.wg.Wait()
}
