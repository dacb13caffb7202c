package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/lugha/internal/resilience"
	"github.com/MrWong99/lugha/internal/transcript"
)

// Manager owns the lifecycle of live sessions. At most one session is active
// at a time; starting a new one stops the previous session first.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	// ctl serialises Start and Stop so that teardown of one session always
	// completes before the next one opens devices.
	ctl sync.Mutex

	mu      sync.Mutex
	cfg     Config
	current *Session
}

// NewManager creates a Manager. When cfg.Archive is set and no breaker is
// given, a default circuit breaker is created and shared by all sessions.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: withArchiveBreaker(cfg)}
}

func withArchiveBreaker(cfg Config) Config {
	if cfg.Archive != nil && cfg.ArchiveBreaker == nil {
		cfg.ArchiveBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "archive",
			OnStateChange: func(from, to resilience.State) {
				slog.Warn("archive circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
	return cfg
}

// SetConfig replaces the configuration used by the next Start. The active
// session is not affected.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Archive == m.cfg.Archive && cfg.ArchiveBreaker == nil {
		cfg.ArchiveBreaker = m.cfg.ArchiveBreaker
	}
	m.cfg = withArchiveBreaker(cfg)
}

// Config returns the configuration used by the next Start.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Start begins a new session and returns its ID once it is CONNECTING.
// Device and transport setup continue in the background; failures surface
// through State and Err. Any previous session is stopped first.
//
// ctx carries values such as trace context into the session. Its
// cancellation does not end the session; call Stop for that.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	cfg := m.Config()
	if err := cfg.validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	prev := m.current
	m.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	s := newSession(context.WithoutCancel(ctx), cfg)
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	s.notify()
	go s.run()
	return s.ID(), nil
}

// Stop tears down the active session, if any, and waits until every device
// and the transport are released. The state is IDLE afterwards, including
// after a failure. Stop is idempotent and may be called from any state.
func (m *Manager) Stop() {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

func (m *Manager) session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// State returns the state of the current session, or IDLE.
func (m *Manager) State() State {
	if s := m.session(); s != nil {
		return s.State()
	}
	return StateIdle
}

// Err returns the reason the current session is in ERROR, or nil.
func (m *Manager) Err() error {
	if s := m.session(); s != nil {
		return s.Err()
	}
	return nil
}

// Turns returns a copy of the current session's transcript. The transcript
// of a stopped or failed session stays readable until the next Start.
func (m *Manager) Turns() []transcript.Turn {
	if s := m.session(); s != nil {
		return s.Snapshot().Turns
	}
	return nil
}

// Snapshot returns a view of the current session. The zero Snapshot (state
// IDLE) is returned when no session was ever started.
func (m *Manager) Snapshot() Snapshot {
	if s := m.session(); s != nil {
		return s.Snapshot()
	}
	return Snapshot{State: StateIdle}
}
