package emotion

import (
	"context"
	"net/http"
	"strings"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/observability"
	"github.com/zhouzirui/calma/backend/pkg/log"
	"github.com/zhouzirui/calma/backend/pkg/retry"
)

const (
	StagePrimary   = "primary"
	StageSecondary = "secondary"
)

// Service classifies text through an ordered strategy chain and caches the
// first successful answer.
type Service struct {
	enabled    bool
	strategies []Strategy
	cache      *Cache
	metrics    *observability.Metrics
}

type Option func(*options)

type options struct {
	client     *http.Client
	metrics    *observability.Metrics
	strategies []Strategy
	custom     bool
}

// WithHTTPClient replaces the client used by the remote stages.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStrategies replaces the remote stages. The heuristic stage is always
// appended last.
func WithStrategies(strategies ...Strategy) Option {
	return func(o *options) {
		o.strategies = strategies
		o.custom = true
	}
}

// NewService wires primary, secondary and heuristic stages from cfg.
func NewService(cfg config.ClassifierConfig, opts ...Option) *Service {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	strategies := o.strategies
	if !o.custom {
		policy := retry.NewFixedConfig(cfg.Retries, cfg.RetryBackoff, cfg.Timeout)
		primary := NewRemoteStrategy(StagePrimary, cfg.BaseURL, cfg.PrimaryModel, cfg.Token, o.client, DecodePrimary)
		secondary := NewRemoteStrategy(StageSecondary, cfg.BaseURL, cfg.SecondaryModel, cfg.Token, o.client, DecodeSecondary)
		strategies = []Strategy{
			WithRetry(primary, policy, o.metrics),
			WithRetry(secondary, policy, o.metrics),
		}
	}
	strategies = append(append([]Strategy{}, strategies...), HeuristicStrategy{})

	return &Service{
		enabled:    cfg.Enabled(),
		strategies: strategies,
		cache:      NewCache(cfg.CacheSize, cfg.CacheTTL),
		metrics:    o.metrics,
	}
}

// Enabled reports whether a classifier credential is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Classify never fails. Empty input, or a missing credential, yields
// {neutral: 1.0} without touching the network or the cache.
func (s *Service) Classify(ctx context.Context, text string) analysis.Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !s.Enabled() {
		return analysis.NeutralResult(1.0)
	}

	if cached, ok := s.cache.Get(trimmed); ok {
		s.metrics.CacheLookup(true)
		return cached
	}
	s.metrics.CacheLookup(false)

	logger := log.FromCtx(ctx)
	for _, strategy := range s.strategies {
		attempt := strategy.Attempt(ctx, trimmed)
		if attempt.Outcome == OutcomeSuccess && attempt.Result.Valid() {
			if _, local := strategy.(HeuristicStrategy); local {
				s.metrics.ClassifierAttempt(strategy.Name(), attempt.Outcome.String())
			}
			s.cache.Set(trimmed, attempt.Result)
			return attempt.Result.Clone()
		}
		logger.Warn().
			Str("stage", strategy.Name()).
			Str("outcome", attempt.Outcome.String()).
			Err(attempt.Err).
			Msg("emotion stage failed, falling back")
	}

	return analysis.NeutralResult(1.0)
}
