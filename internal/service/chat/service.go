package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/analysis/moderation"
	"github.com/zhouzirui/calma/backend/internal/analysis/risk"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	riskmodel "github.com/zhouzirui/calma/backend/internal/model/risk"
	"github.com/zhouzirui/calma/backend/internal/observability"
	"github.com/zhouzirui/calma/backend/internal/service/ai"
	"github.com/zhouzirui/calma/backend/internal/service/compaction"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

var (
	ErrIdentityRequired = errors.New("caller identity is required")
	ErrNoTurns          = errors.New("at least one turn is required")
	ErrUserTextRequired = errors.New("the last user turn must carry text")
)

const eventBuffer = 8

// Classifier labels text; it never fails.
type Classifier interface {
	Classify(ctx context.Context, text string) analysis.Result
}

// Compactor prunes a session once it grows too long.
type Compactor interface {
	MaybeCompact(ctx context.Context, sessionID string) compaction.Outcome
}

// Message is one client-supplied turn.
type Message struct {
	Role    chat.Role `json:"role" validate:"required,oneof=user assistant system"`
	Content string    `json:"content"`
}

// TurnRequest is a single submitted exchange.
type TurnRequest struct {
	UserID    string
	SessionID string
	Turns     []Message
}

const (
	EventToken = "token"
	EventMeta  = "meta"
	EventError = "error"
)

// Event is one record of the turn's output sequence: zero or more tokens,
// then exactly one meta or error.
type Event struct {
	Type          string             `json:"type"`
	Token         string             `json:"token,omitempty"`
	SessionID     string             `json:"sessionId,omitempty"`
	Emotion       string             `json:"emotion,omitempty"`
	EmotionScores map[string]float64 `json:"emotionScores,omitempty"`
	UserEmotion   string             `json:"userEmotion,omitempty"`
	Flagged       bool               `json:"flagged,omitempty"`
	Message       string             `json:"message,omitempty"`
}

type Dependencies struct {
	Store      chat.Store
	Alerts     riskmodel.AlertStore
	Generator  ai.Generator
	Classifier Classifier
	Compactor  Compactor
	Monitor    *risk.Monitor
	Metrics    *observability.Metrics
}

// Service runs the per-turn pipeline: moderation, generation, classification,
// persistence, risk and compaction.
type Service struct {
	store      chat.Store
	alerts     riskmodel.AlertStore
	generator  ai.Generator
	classifier Classifier
	compactor  Compactor
	monitor    *risk.Monitor
	metrics    *observability.Metrics
}

func NewService(deps Dependencies) *Service {
	return &Service{
		store:      deps.Store,
		alerts:     deps.Alerts,
		generator:  deps.Generator,
		classifier: deps.Classifier,
		compactor:  deps.Compactor,
		monitor:    deps.Monitor,
		metrics:    deps.Metrics,
	}
}

// Submit validates req and resolves its session synchronously, then runs the
// rest of the turn in the background. Validation failures have no side
// effects. The returned reader ends after one meta or error event; closing it
// early stops generation.
func (s *Service) Submit(ctx context.Context, req TurnRequest) (*schema.StreamReader[Event], error) {
	started := time.Now()

	userText, err := validate(req)
	if err != nil {
		return nil, err
	}

	session, err := s.resolveSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[Event](eventBuffer)
	go s.run(ctx, started, session, req.Turns, userText, sw)
	return sr, nil
}

func validate(req TurnRequest) (string, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return "", ErrIdentityRequired
	}
	if len(req.Turns) == 0 {
		return "", ErrNoTurns
	}
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role != chat.RoleUser {
			continue
		}
		text := strings.TrimSpace(req.Turns[i].Content)
		if text == "" {
			return "", ErrUserTextRequired
		}
		return text, nil
	}
	return "", ErrUserTextRequired
}

func (s *Service) resolveSession(ctx context.Context, userID, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		session, err := s.store.CreateSession(ctx, userID)
		if err != nil {
			return chat.Session{}, fmt.Errorf("create session: %w", err)
		}
		return session, nil
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if !session.OwnedBy(userID) {
		return chat.Session{}, chat.ErrForbidden
	}
	return session, nil
}

func (s *Service) run(ctx context.Context, started time.Time, session chat.Session, history []Message, userText string, sw *schema.StreamWriter[Event]) {
	defer sw.Close()

	logger := log.FromCtx(ctx).With().Str("session_id", session.ID).Logger()
	ctx = logger.WithContext(ctx)

	verdict := moderation.Evaluate(userText)

	var reply string
	if verdict.Flagged {
		logger.Warn().Str("keyword", verdict.Keyword).Msg("crisis keyword matched, substituting safe response")
		reply = moderation.SafeResponse
		sw.Send(Event{Type: EventToken, Token: reply}, nil)
	} else {
		text, err := s.generate(ctx, history, sw)
		if err != nil {
			logger.Error().Err(err).Msg("generation failed")
			sw.Send(Event{Type: EventError, SessionID: session.ID, Message: err.Error()}, nil)
			s.metrics.TurnFinished(observability.TurnError, started)
			return
		}
		reply = text
	}

	// the caller already has the reply; the rest must survive a disconnect
	detached := context.WithoutCancel(ctx)

	userResult, replyResult := s.classifyBoth(detached, userText, reply)

	steps := make([]StepResult, 0, 4)
	userTurn, step := s.persist(detached, session.ID, chat.RoleUser, userText, userResult)
	steps = append(steps, step)
	_, step = s.persist(detached, session.ID, chat.RoleAssistant, reply, replyResult)
	steps = append(steps, step)
	steps = append(steps, s.assessRisk(detached, session.UserID, userTurn))

	sw.Send(Event{
		Type:          EventMeta,
		SessionID:     session.ID,
		Emotion:       replyResult.Label,
		EmotionScores: replyResult.Scores,
		UserEmotion:   userResult.Label,
		Flagged:       verdict.Flagged,
	}, nil)

	steps = append(steps, s.compact(detached, session.ID))
	logSteps(logger, steps)

	status := observability.TurnOK
	if verdict.Flagged {
		status = observability.TurnFlagged
	}
	s.metrics.TurnFinished(status, started)
}

func (s *Service) generate(ctx context.Context, history []Message, sw *schema.StreamWriter[Event]) (string, error) {
	turns := make([]chat.Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, chat.Turn{Role: msg.Role, Content: msg.Content})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.generator.Stream(ctx, turns)
	if err != nil {
		return "", err
	}
	return ai.Collect(ctx, stream, func(token string) {
		s.metrics.TokenStreamed()
		if closed := sw.Send(Event{Type: EventToken, Token: token}, nil); closed {
			cancel()
		}
	})
}

// classifyBoth runs two independent classifications concurrently.
func (s *Service) classifyBoth(ctx context.Context, userText, reply string) (analysis.Result, analysis.Result) {
	var userResult, replyResult analysis.Result

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		userResult = s.classifier.Classify(ctx, userText)
	}()
	go func() {
		defer wg.Done()
		replyResult = s.classifier.Classify(ctx, reply)
	}()
	wg.Wait()

	return userResult, replyResult
}
