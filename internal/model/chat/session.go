package chat

import "time"

// Session is one user's ordered conversation with the assistant.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	CreatedAt       time.Time  `json:"createdAt"`
	Topic           *string    `json:"topic,omitempty"`
	LastCompactedAt *time.Time `json:"lastCompactedAt,omitempty"`
}

// OwnedBy reports whether userID owns the session.
func (s Session) OwnedBy(userID string) bool {
	return userID != "" && s.UserID == userID
}
