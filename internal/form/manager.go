// internal/form/manager.go
package form

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmorse17/txflow/pkg/errors"
	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
)

// ManagerConfig holds the dependencies and tuning for a session manager.
type ManagerConfig struct {
	// Debounce is passed through to each controller.
	Debounce time.Duration
	// SessionTTL is how long an idle session is kept before eviction.
	SessionTTL time.Duration
	// MaxSessions bounds the number of concurrently open sessions.
	MaxSessions int

	Preparer  Preparer
	Submitter Submitter
	Watcher   Watcher
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Manager owns the open form sessions, keyed by session ID. Idle sessions
// are evicted by a janitor goroutine started with Run.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Controller
	cfg      ManagerConfig

	// ctx bounds the lifetime of every controller. Sessions outlive the
	// request that opened them, so controllers must not run against a
	// caller's request-scoped context.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*Controller),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewSession opens a new form session and returns its ID and controller.
func (m *Manager) NewSession() (string, *Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		return "", nil, errors.FormErrorf(errors.FormErrSessionLimit,
			"session limit of %d reached", m.cfg.MaxSessions)
	}

	id := uuid.New().String()
	ctrl := NewController(m.ctx, Config{
		Debounce:  m.cfg.Debounce,
		Preparer:  m.cfg.Preparer,
		Submitter: m.cfg.Submitter,
		Watcher:   m.cfg.Watcher,
		Logger:    m.cfg.Logger.WithField("session_id", id),
		Metrics:   m.cfg.Metrics,
	})

	m.sessions[id] = ctrl
	m.cfg.Metrics.FormSessionsActive.Set(float64(len(m.sessions)))
	m.cfg.Logger.Debug("Form session opened", "session_id", id)

	return id, ctrl, nil
}

// Get returns the controller for a session ID.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctrl, ok := m.sessions[id]
	if !ok {
		return nil, errors.FormErrorf(errors.FormErrSessionNotFound, "session %s not found", id)
	}
	return ctrl, nil
}

// Close closes a session and releases its controller.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctrl, ok := m.sessions[id]
	if !ok {
		return errors.FormErrorf(errors.FormErrSessionNotFound, "session %s not found", id)
	}

	ctrl.Close()
	delete(m.sessions, id)
	m.cfg.Metrics.FormSessionsActive.Set(float64(len(m.sessions)))
	m.cfg.Logger.Debug("Form session closed", "session_id", id)

	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle sessions until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SessionTTL / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

// evictIdle closes sessions whose last interaction is older than the TTL.
// Sessions with a pending submission are kept so a confirmation still has
// somewhere to land.
func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.cfg.SessionTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ctrl := range m.sessions {
		if ctrl.Status() == StatusPending {
			continue
		}
		if ctrl.LastActive().Before(cutoff) {
			ctrl.Close()
			delete(m.sessions, id)
			m.cfg.Logger.Debug("Form session evicted", "session_id", id)
		}
	}
	m.cfg.Metrics.FormSessionsActive.Set(float64(len(m.sessions)))
}

func (m *Manager) closeAll() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ctrl := range m.sessions {
		ctrl.Close()
		delete(m.sessions, id)
	}
	m.cfg.Metrics.FormSessionsActive.Set(0)
}
