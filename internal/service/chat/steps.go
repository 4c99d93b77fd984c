package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	"github.com/zhouzirui/calma/backend/internal/observability"
	"github.com/zhouzirui/calma/backend/internal/service/compaction"
)

// StepResult records a best-effort step. A failed step never fails the turn;
// the whole set is logged once by logSteps.
type StepResult struct {
	Step   string
	Detail string
	Err    error
}

func (s *Service) persist(ctx context.Context, sessionID string, role chat.Role, content string, result analysis.Result) (chat.Turn, StepResult) {
	step := StepResult{Step: "persist_" + string(role)}

	label := result.Label
	turn, err := s.store.AppendTurn(ctx, chat.Turn{
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		Emotion:       &label,
		EmotionScores: result.Scores,
	})
	if err != nil {
		step.Err = err
		// keep the unsaved turn around so risk scoring still sees it
		return chat.Turn{SessionID: sessionID, Role: role, Content: content, Emotion: &label}, step
	}
	step.Detail = turn.ID
	return turn, step
}

func (s *Service) assessRisk(ctx context.Context, userID string, turn chat.Turn) StepResult {
	step := StepResult{Step: "risk"}
	if s.monitor == nil {
		step.Detail = "disabled"
		return step
	}

	assessment, alert := s.monitor.Evaluate(userID, []chat.Turn{turn})
	step.Detail = fmt.Sprintf("score=%d keyword=%t", assessment.Score, assessment.HasKeyword)
	if alert == nil || s.alerts == nil {
		return step
	}

	saved, err := s.alerts.SaveAlert(ctx, *alert)
	if err != nil {
		step.Err = fmt.Errorf("save alert: %w", err)
		return step
	}
	s.metrics.RiskAlert(observability.AlertSourceTurn)
	step.Detail += " alert=" + saved.ID
	return step
}

func (s *Service) compact(ctx context.Context, sessionID string) StepResult {
	step := StepResult{Step: "compaction"}
	if s.compactor == nil {
		step.Detail = "disabled"
		return step
	}

	out := s.compactor.MaybeCompact(ctx, sessionID)
	step.Detail = string(out.Status)
	if out.Status == compaction.StatusSummarized {
		step.Detail = fmt.Sprintf("%s removed=%d topic=%q", out.Status, out.Removed, out.Topic)
	}
	step.Err = out.Err
	return step
}

func logSteps(logger zerolog.Logger, steps []StepResult) {
	for _, step := range steps {
		if step.Err != nil {
			logger.Warn().Err(step.Err).Str("step", step.Step).Str("detail", step.Detail).Msg("best-effort step failed")
			continue
		}
		logger.Debug().Str("step", step.Step).Str("detail", step.Detail).Msg("step done")
	}
}
