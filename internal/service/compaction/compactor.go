package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	"github.com/zhouzirui/calma/backend/internal/observability"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

const maxTopicWords = 6

var ErrEmptyTopic = errors.New("summarizer returned an empty topic")

type Status string

const (
	StatusSkipped    Status = "skipped"
	StatusSummarized Status = "summarized"
	StatusFailed     Status = "failed"
)

// Outcome describes one MaybeCompact call. Err is set only for StatusFailed.
type Outcome struct {
	Status  Status
	Removed int
	Topic   string
	Err     error
}

// Summarizer is the non-streaming side of the generator.
type Summarizer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Compactor labels and prunes sessions that grew past a threshold.
type Compactor struct {
	store      chat.Store
	summarizer Summarizer
	cfg        config.CompactionConfig
	metrics    *observability.Metrics
	now        func() time.Time
}

func New(store chat.Store, summarizer Summarizer, cfg config.CompactionConfig, metrics *observability.Metrics) *Compactor {
	return &Compactor{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		metrics:    metrics,
		now:        time.Now,
	}
}

// MaybeCompact keeps the last KeepRecent turns, labels the older prefix with
// a short topic and deletes it. The topic is written before any delete; if no
// topic can be produced nothing is deleted.
func (c *Compactor) MaybeCompact(ctx context.Context, sessionID string) Outcome {
	outcome := c.compact(ctx, sessionID)
	c.metrics.Compaction(string(outcome.Status))
	return outcome
}

func (c *Compactor) compact(ctx context.Context, sessionID string) Outcome {
	if !c.cfg.Enabled {
		return Outcome{Status: StatusSkipped}
	}

	turns, err := c.store.ListTurns(ctx, sessionID)
	if err != nil {
		return failure(fmt.Errorf("list turns: %w", err))
	}
	if len(turns) < c.cfg.Threshold {
		return Outcome{Status: StatusSkipped}
	}

	keep := max(c.cfg.KeepRecent, 0)
	if len(turns) <= keep {
		return Outcome{Status: StatusSkipped}
	}
	old := turns[:len(turns)-keep]

	digest := Digest(old)
	if digest == "" {
		return Outcome{Status: StatusSkipped}
	}

	raw, err := c.summarizer.Complete(ctx, topicPrompt(digest))
	if err != nil {
		return failure(fmt.Errorf("summarize: %w", err))
	}
	topic := SanitizeTopic(raw)
	if topic == "" {
		return failure(ErrEmptyTopic)
	}

	if err := c.store.UpdateSessionTopic(ctx, sessionID, topic, c.now()); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist session topic")
	}

	ids := make([]string, 0, len(old))
	for _, turn := range old {
		ids = append(ids, turn.ID)
	}
	removed, err := c.store.DeleteTurns(ctx, sessionID, ids)
	if err != nil {
		out := failure(fmt.Errorf("delete turns: %w", err))
		out.Topic = topic
		out.Removed = removed
		return out
	}

	return Outcome{Status: StatusSummarized, Removed: removed, Topic: topic}
}

func failure(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

// Digest renders user and assistant turns as labelled lines. System turns are
// left out.
func Digest(turns []chat.Turn) string {
	var builder strings.Builder
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleUser:
			builder.WriteString("Usuario: ")
		case chat.RoleAssistant:
			builder.WriteString("Asistente: ")
		default:
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}

func topicPrompt(digest string) string {
	return "Resume el tema principal de esta conversación en un máximo de 6 palabras. " +
		"Responde solo con el tema, sin comillas ni puntuación final.\n\n" + digest
}

// SanitizeTopic keeps the first line of raw, drops a "Tema:" style prefix and
// surrounding punctuation, and caps it at six words.
func SanitizeTopic(raw string) string {
	line := strings.TrimSpace(raw)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	for _, prefix := range []string{"tema:", "topic:", "título:"} {
		if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
			line = line[len(prefix):]
			break
		}
	}

	words := strings.Fields(line)
	if len(words) > maxTopicWords {
		words = words[:maxTopicWords]
	}
	return strings.TrimFunc(strings.Join(words, " "), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
