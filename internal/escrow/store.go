package escrow

import (
	"sync"
	"time"

	"github.com/odin-eye1/telegrambot/internal/metrics"
)

// Store is the authoritative in-memory table of active escrow sessions,
// keyed by chat id. It hands out deep copies; the Service is the only
// writer and serializes read-modify-write cycles per session.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Get returns a copy of the session for chatID.
func (st *Store) Get(chatID int64) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[chatID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Exists reports whether a session for chatID is active.
func (st *Store) Exists(chatID int64) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.sessions[chatID]
	return ok
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// IdleBefore returns the chat ids of sessions with no activity since cutoff.
// Sessions with an in-flight settlement are skipped; the reaper re-checks
// each candidate under the session lock before removal anyway.
func (st *Store) IdleBefore(cutoff time.Time) []int64 {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var ids []int64
	for id, s := range st.sessions {
		if !s.settling && s.LastActivityAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// put stores a copy of s. Callers must hold the session lock for s.ChatID.
func (st *Store) put(s *Session) {
	st.mu.Lock()
	st.sessions[s.ChatID] = s.clone()
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// remove deletes the session for chatID. Callers must hold the session lock.
func (st *Store) remove(chatID int64) {
	st.mu.Lock()
	delete(st.sessions, chatID)
	n := len(st.sessions)
	st.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}
