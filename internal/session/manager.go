package session

import (
	"sort"
	"sync"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/jobs"
	"github.com/rs/zerolog/log"
)

// DefaultMaxSessions bounds how many sessions are kept in memory. Opening one
// more discards the oldest.
const DefaultMaxSessions = 8

// idPrefix is prepended to every session ID.
const idPrefix = "sess-"

// Manager is a concurrency-safe registry of open sessions.
type Manager struct {
	editor      Transformer
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions edit through editor.
// maxSessions <= 0 selects DefaultMaxSessions.
func NewManager(editor Transformer, maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		editor:      editor,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Open starts a new session for src. Each source image gets its own session
// and history; nothing carries over from earlier sessions.
func (m *Manager) Open(name string, src filehandler.Image) *Session {
	s := New(jobs.GenerateID(idPrefix), name, src, m.editor)

	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.sessions) >= m.maxSessions {
		m.evictOldestLocked()
	}
	m.sessions[s.ID] = s

	log.Info().
		Str("session", s.ID).
		Str("name", s.Name).
		Int("size_bytes", src.Size()).
		Int("open_sessions", len(m.sessions)).
		Msg("Session opened")
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[jobs.NormalizeID(id, idPrefix)]
	return s, ok
}

// Close discards a session and its history. It reports whether the session
// existed.
func (m *Manager) Close(id string) bool {
	id = jobs.NormalizeID(id, idPrefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	log.Info().Str("session", id).Msg("Session closed")
	return true
}

// List returns summaries of every open session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) evictOldestLocked() {
	var oldest *Session
	for _, s := range m.sessions {
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	delete(m.sessions, oldest.ID)
	log.Info().Str("session", oldest.ID).Msg("Evicted oldest session")
}
