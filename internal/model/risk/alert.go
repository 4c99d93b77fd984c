package risk

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Alert flags a user whose messages crossed the risk policy.
type Alert struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId" validate:"required"`
	Score     *int      `json:"score" validate:"required,gte=0"`
	RiskType  string    `json:"riskType" validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

var ErrInvalidAlert = errors.New("alert requires user, score, risk type and timestamp")

// Complete reports whether every required field is set.
func (a Alert) Complete() bool {
	return a.UserID != "" && a.Score != nil && a.RiskType != "" && !a.Timestamp.IsZero()
}

// AlertStore persists raised alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert Alert) (Alert, error)
	ListAlerts(ctx context.Context, userID string) ([]Alert, error)
}

// MemoryStore implements AlertStore in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []Alert
}

var _ AlertStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveAlert(_ context.Context, alert Alert) (Alert, error) {
	if !alert.Complete() {
		return Alert{}, ErrInvalidAlert
	}
	alert.ID = uuid.NewString()

	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
	return alert, nil
}

// ListAlerts returns userID's alerts, newest first.
func (s *MemoryStore) ListAlerts(_ context.Context, userID string) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, 0)
	for _, alert := range s.alerts {
		if alert.UserID == userID {
			out = append(out, alert)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
