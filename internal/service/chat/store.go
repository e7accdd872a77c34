package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyu-mlab/gemini-proxy/internal/model/chat"
)

// maxIDAttempts bounds the re-roll loop on the (practically impossible) event
// of a random id colliding with a live session.
const maxIDAttempts = 8

// entry is one stored session plus its serialisation lock.
type entry struct {
	// mu serialises exchanges on this session; it is held across the model call.
	mu sync.Mutex

	// state is guarded by stateMu so reads never wait on an in-flight exchange.
	stateMu sync.RWMutex
	state   chat.Session
	ended   bool
}

func (e *entry) snapshot() (chat.Session, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	s := e.state
	s.Conversation = s.Conversation.Clone()
	return s, e.ended
}

// Store owns the mapping from session id to session state. The map is guarded
// by an RWMutex; each session additionally has its own lock so concurrent sends
// to one session run one at a time while different sessions proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
	newID    func() (string, error)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    randomID,
	}
}

// randomID draws a version 4 UUID from crypto/rand.
func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create inserts a new session and returns it.
func (s *Store) Create(owner, modelName string, cfg chat.GenerationConfig, conv chat.Conversation) (chat.Session, error) {
	now := s.now()
	session := chat.Session{
		Owner:        owner,
		Model:        modelName,
		Config:       cfg,
		Conversation: conv.Clone(),
		CreatedAt:    now,
		LastActiveAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return chat.Session{}, fmt.Errorf("generate session id: %w", err)
		}
		if _, taken := s.sessions[id]; taken {
			continue
		}
		session.ID = id
		s.sessions[id] = &entry{state: session}
		return session, nil
	}
	return chat.Session{}, fmt.Errorf("generate session id: %d collisions in a row", maxIDAttempts)
}

// Get returns a snapshot of the session or ErrSessionNotFound.
func (s *Store) Get(id string) (chat.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	session, ended := e.snapshot()
	if ended {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes the session. It reports false when the id is unknown.
// An exchange already in flight finishes but its result is not stored.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	e.stateMu.Lock()
	e.ended = true
	e.stateMu.Unlock()
	return true
}

// UpdateFunc computes the next conversation from a session snapshot.
type UpdateFunc func(session chat.Session) (chat.Conversation, error)

// Update runs fn under the session's lock and stores the conversation it
// returns. When fn fails nothing is stored and its error is returned as is.
func (s *Store) Update(id string, fn UpdateFunc) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session, ended := e.snapshot()
	if ended {
		return ErrSessionNotFound
	}

	next, err := fn(session)
	if err != nil {
		return err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.ended {
		return nil
	}
	e.state.Conversation = next
	e.state.LastActiveAt = s.now()
	return nil
}

// Sweep deletes sessions whose last activity is older than idle and returns
// how many were removed. Sessions with an exchange in flight are skipped.
func (s *Store) Sweep(now time.Time, idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue
		}
		e.stateMu.Lock()
		if now.Sub(e.state.LastActiveAt) > idle {
			e.ended = true
			delete(s.sessions, id)
			removed++
		}
		e.stateMu.Unlock()
		e.mu.Unlock()
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}
