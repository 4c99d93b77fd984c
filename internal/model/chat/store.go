package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUserRequired    = errors.New("user id is required")
	ErrInvalidTurn     = errors.New("turn requires a role and content")
	ErrForbidden       = errors.New("session belongs to another user")
)

// Store is the persistence contract the conversation core relies on.
// Turns are returned in creation order.
type Store interface {
	CreateSession(ctx context.Context, userID string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	UpdateSessionTopic(ctx context.Context, sessionID, topic string, compactedAt time.Time) error

	AppendTurn(ctx context.Context, turn Turn) (Turn, error)
	ListTurns(ctx context.Context, sessionID string) ([]Turn, error)
	DeleteTurns(ctx context.Context, sessionID string, turnIDs []string) (int, error)
}

// ValidateTurn checks the invariants every stored turn must hold.
func ValidateTurn(turn Turn) error {
	if turn.SessionID == "" {
		return ErrSessionNotFound
	}
	if !turn.Role.Valid() || turn.Content == "" {
		return ErrInvalidTurn
	}
	return nil
}
