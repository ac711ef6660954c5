package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wudi/pagekit/observability"
)

// Manager owns the live sessions. Sessions share nothing but their
// configuration.
type Manager struct {
	cfg  Config
	idle time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates sessions with cfg. Sessions untouched for longer than
// idle are closed by Sweep; zero disables sweeping.
func NewManager(cfg Config, idle time.Duration) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, idle: idle, sessions: make(map[string]*Session)}
}

func (m *Manager) Create() *Session {
	s := New(uuid.NewString(), m.cfg)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes and forgets the session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	s.Close()
	return nil
}

// Sweep closes sessions idle since before now minus the idle timeout and
// returns how many it closed.
func (m *Manager) Sweep(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}
	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.idle {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		m.cfg.Logger.Info("closed idle sessions", observability.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done, then closes every session.
// A non-positive every sweeps once per idle timeout; with sweeping
// disabled Run only waits for ctx.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = m.idle
	}
	var tick <-chan time.Time
	if every > 0 {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case now := <-tick:
			m.Sweep(now)
		case <-ctx.Done():
			m.CloseAll()
			return
		}
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
