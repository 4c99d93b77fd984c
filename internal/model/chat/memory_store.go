package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions and turns in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	turns    map[string][]Turn
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		turns:    make(map[string][]Turn),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions a session bound to userID.
func (s *MemoryStore) CreateSession(_ context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrUserRequired
	}

	session := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns userID's sessions, newest first.
func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// UpdateSessionTopic records the compaction label.
func (s *MemoryStore) UpdateSessionTopic(_ context.Context, sessionID, topic string, compactedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Topic = &topic
	at := compactedAt.UTC()
	session.LastCompactedAt = &at
	s.sessions[sessionID] = session
	return nil
}

// AppendTurn appends a turn to the session history.
func (s *MemoryStore) AppendTurn(_ context.Context, turn Turn) (Turn, error) {
	if err := ValidateTurn(turn); err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return Turn{}, ErrSessionNotFound
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	turn.EmotionScores = copyScores(turn.EmotionScores)

	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn, nil
}

// ListTurns returns stored turns for the provided session.
func (s *MemoryStore) ListTurns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// DeleteTurns removes the listed turns and reports how many existed.
func (s *MemoryStore) DeleteTurns(_ context.Context, sessionID string, turnIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}

	drop := make(map[string]struct{}, len(turnIDs))
	for _, id := range turnIDs {
		drop[id] = struct{}{}
	}

	kept := turns[:0:0]
	for _, turn := range turns {
		if _, ok := drop[turn.ID]; ok {
			continue
		}
		kept = append(kept, turn)
	}
	s.turns[sessionID] = kept
	return len(turns) - len(kept), nil
}

func copyScores(scores map[string]float64) map[string]float64 {
	if scores == nil {
		return nil
	}
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}
