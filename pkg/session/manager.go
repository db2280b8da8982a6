package session

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/carrydev/carrycode/internal/observability"
)

// Manager is the registry of live session contexts. It is injected
// rather than process-global so tests run with isolated state. The
// registry lock is held only for short lookups, never across I/O.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Context

	idleTTL time.Duration
	cron    *cron.Cron
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTTL enables periodic eviction of sessions idle for longer
// than ttl. Evicted sessions are only dropped from the registry; their
// snapshots stay on disk and reopen on the next use.
func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.idleTTL = ttl
	}
}

// NewManager creates a session registry. With an idle TTL set, a
// sweeper runs every minute.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{sessions: map[string]*Context{}}
	for _, opt := range opts {
		opt(m)
	}
	if m.idleTTL > 0 {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc("@every 1m", m.evictIdle); err != nil {
			log.Error().Err(err).Msg("failed to schedule session eviction")
		} else {
			m.cron.Start()
		}
	}
	return m
}

// Get returns the context for a session id, or nil.
func (m *Manager) Get(sessionID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// Add registers a context, replacing any existing one for the id.
func (m *Manager) Add(sctx *Context) {
	m.mu.Lock()
	m.sessions[sctx.ID] = sctx
	count := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(count)
}

// Remove drops a session from the registry, aborting any in-flight
// execution and resolving a pending confirmation as a denial.
func (m *Manager) Remove(sessionID string) *Context {
	m.mu.Lock()
	sctx := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	if sctx != nil {
		sctx.clearPending()
		sctx.abort()
	}
	return sctx
}

// ListIDs returns the ids of all live sessions.
func (m *Manager) ListIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictIdle removes sessions with no activity inside the TTL window.
// Sessions with a run in flight are skipped.
func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTTL).UnixMilli()

	m.mu.Lock()
	var stale []*Context
	for id, sctx := range m.sessions {
		if sctx.running() {
			continue
		}
		if sctx.lastActivity() < cutoff {
			stale = append(stale, sctx)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	observability.SetActiveSessions(count)
	for _, sctx := range stale {
		sctx.clearPending()
		log.Info().Str("session_id", sctx.ID).Msg("evicted idle session")
	}
}

// Close stops the eviction sweeper.
func (m *Manager) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
}
