// Package observability exposes Prometheus metrics for the conversation core.
//
// Metrics are registered against an injectable Registerer so tests can use a
// private registry. A nil *Metrics is valid and records nothing.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "calma"

// Turn status label values.
const (
	TurnOK      = "ok"
	TurnFlagged = "flagged"
	TurnError   = "error"
)

// Risk alert source label values.
const (
	AlertSourceIngest   = "ingest"
	AlertSourceEvaluate = "evaluate"
	AlertSourceTurn     = "turn"
)

// Metrics holds every collector the service records.
type Metrics struct {
	// ClassifierAttempts counts strategy attempts.
	// Labels: stage (primary, secondary, heuristic), outcome (success, retryable, failed)
	ClassifierAttempts *prometheus.CounterVec

	// ClassifierCache counts cache lookups. Labels: result (hit, miss)
	ClassifierCache *prometheus.CounterVec

	// TokensStreamed counts generated fragments relayed to callers.
	TokensStreamed prometheus.Counter

	// Turns counts handled turns. Labels: status (ok, flagged, error)
	Turns *prometheus.CounterVec

	// TurnDuration measures a turn from submission to its final event.
	TurnDuration prometheus.Histogram

	// Compactions counts compaction outcomes. Labels: status (skipped, summarized, failed)
	Compactions *prometheus.CounterVec

	// RiskAlerts counts alerts stored. Labels: source (ingest, evaluate, turn)
	RiskAlerts *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClassifierAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "classifier",
			Name:      "attempts_total",
			Help:      "Emotion classification attempts by stage and outcome",
		}, []string{"stage", "outcome"}),
		ClassifierCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "classifier",
			Name:      "cache_lookups_total",
			Help:      "Emotion classification cache lookups by result",
		}, []string{"result"}),
		TokensStreamed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "generation",
			Name:      "tokens_streamed_total",
			Help:      "Generated fragments relayed to callers",
		}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Handled conversation turns by status",
		}, []string{"status"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Time from turn submission to its final event",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "compaction",
			Name:      "runs_total",
			Help:      "Session compaction outcomes",
		}, []string{"status"}),
		RiskAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "risk",
			Name:      "alerts_total",
			Help:      "Risk alerts stored by source",
		}, []string{"source"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ClassifierAttempt(stage, outcome string) {
	if m == nil {
		return
	}
	m.ClassifierAttempts.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ClassifierCache.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenStreamed() {
	if m == nil {
		return
	}
	m.TokensStreamed.Inc()
}

func (m *Metrics) TurnFinished(status string, started time.Time) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(status).Inc()
	m.TurnDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) Compaction(status string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(status).Inc()
}

func (m *Metrics) RiskAlert(source string) {
	if m == nil {
		return
	}
	m.RiskAlerts.WithLabelValues(source).Inc()
}
