package emotion

import (
	"context"
	"errors"
	"fmt"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/observability"
	"github.com/zhouzirui/calma/backend/pkg/retry"
)

// Outcome tags the result of a single classification attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the same model may succeed shortly (loading, busy).
	OutcomeRetryable
	// OutcomeFailed means this stage is done; move to the next one.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "failed"
	}
}

// Attempt is what a Strategy returns instead of an error.
type Attempt struct {
	Result  analysis.Result
	Outcome Outcome
	Err     error
}

func succeeded(result analysis.Result) Attempt {
	return Attempt{Result: result, Outcome: OutcomeSuccess}
}

func retryable(err error) Attempt {
	return Attempt{Outcome: OutcomeRetryable, Err: err}
}

func failed(err error) Attempt {
	return Attempt{Outcome: OutcomeFailed, Err: err}
}

// Strategy is one stage of the classification chain.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, text string) Attempt
}

// HeuristicStrategy scores text locally and never fails.
type HeuristicStrategy struct{}

func (HeuristicStrategy) Name() string { return "heuristic" }

func (HeuristicStrategy) Attempt(_ context.Context, text string) Attempt {
	return succeeded(analysis.Heuristic(text))
}

// retrying re-runs a strategy while it reports OutcomeRetryable and bounds
// every attempt with the retrier's per-attempt timeout.
type retrying struct {
	inner   Strategy
	retrier *retry.Retrier
	metrics *observability.Metrics
}

// WithRetry layers the retry policy on top of s.
func WithRetry(s Strategy, cfg *retry.Config, metrics *observability.Metrics) Strategy {
	return &retrying{inner: s, retrier: retry.NewRetrier(cfg), metrics: metrics}
}

func (r *retrying) Name() string { return r.inner.Name() }

func (r *retrying) Attempt(ctx context.Context, text string) Attempt {
	var last Attempt
	err := r.retrier.Do(ctx, func(attemptCtx context.Context) error {
		last = r.inner.Attempt(attemptCtx, text)
		r.metrics.ClassifierAttempt(r.inner.Name(), last.Outcome.String())

		switch last.Outcome {
		case OutcomeSuccess:
			return nil
		case OutcomeRetryable:
			return attemptErr(last)
		default:
			return retry.Permanent(attemptErr(last))
		}
	})
	if err != nil {
		return failed(fmt.Errorf("%s: %w", r.inner.Name(), err))
	}
	return last
}

func attemptErr(a Attempt) error {
	if a.Err != nil {
		return a.Err
	}
	return errors.New(a.Outcome.String())
}
