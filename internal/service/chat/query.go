package chat

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

const overviewWorkers = 4

// SessionOverview enriches a session for listings.
type SessionOverview struct {
	chat.Session
	MessageCount     int    `json:"messageCount"`
	DominantEmotion  string `json:"dominantEmotion,omitempty"`
	FirstUserMessage string `json:"firstUserMessage,omitempty"`
}

// History returns the session and its ordered turns if userID owns it.
func (s *Service) History(ctx context.Context, userID, sessionID string) (chat.Session, []chat.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		return chat.Session{}, nil, ErrIdentityRequired
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, err
	}
	if !session.OwnedBy(userID) {
		return chat.Session{}, nil, chat.ErrForbidden
	}

	turns, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, fmt.Errorf("list turns: %w", err)
	}
	return session, turns, nil
}

// ListSessions returns every session owned by userID with summary fields.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]SessionOverview, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrIdentityRequired
	}

	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	overviews := make([]SessionOverview, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewWorkers)
	for i, session := range sessions {
		i, session := i, session
		g.Go(func() error {
			turns, err := s.store.ListTurns(gctx, session.ID)
			if err != nil {
				return fmt.Errorf("list turns for %s: %w", session.ID, err)
			}
			overviews[i] = overview(session, turns)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return overviews, nil
}

func overview(session chat.Session, turns []chat.Turn) SessionOverview {
	o := SessionOverview{
		Session:         session,
		MessageCount:    len(turns),
		DominantEmotion: DominantEmotion(turns),
	}
	for _, turn := range turns {
		if turn.Role == chat.RoleUser {
			o.FirstUserMessage = turn.Content
			break
		}
	}
	return o
}

// DominantEmotion returns the most frequent label. On a tie a non-neutral
// label beats neutral, otherwise the label seen first wins.
func DominantEmotion(turns []chat.Turn) string {
	counts := make(map[string]int)
	order := make([]string, 0, 8)
	for _, turn := range turns {
		label := turn.EmotionLabel()
		if label == "" {
			continue
		}
		if _, seen := counts[label]; !seen {
			order = append(order, label)
		}
		counts[label]++
	}

	best := ""
	for _, label := range order {
		switch {
		case best == "":
			best = label
		case counts[label] > counts[best]:
			best = label
		case counts[label] == counts[best] && best == analysis.Neutral && label != analysis.Neutral:
			best = label
		}
	}
	return best
}
