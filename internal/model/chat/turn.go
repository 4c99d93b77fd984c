package chat

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Turn persists one side of an exchange.
type Turn struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"sessionId"`
	Role          Role               `json:"role"`
	Content       string             `json:"content"`
	Emotion       *string            `json:"emotion,omitempty"`
	EmotionScores map[string]float64 `json:"emotionScores,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// EmotionLabel returns the detected label or "" while unclassified.
func (t Turn) EmotionLabel() string {
	if t.Emotion == nil {
		return ""
	}
	return *t.Emotion
}
