package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

// ErrGeneratorUnavailable wraps every transport failure towards the model.
var ErrGeneratorUnavailable = errors.New("generator unavailable")

// Generator produces assistant text from a conversation.
type Generator interface {
	// Stream returns the reply as a sequence of text fragments. Closing the
	// reader, or cancelling ctx, stops the underlying read loop.
	Stream(ctx context.Context, turns []chat.Turn) (*schema.StreamReader[string], error)
	// Complete runs a single non-streaming prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.GenerationConfig, client *http.Client) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewArkChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewArkGenerator(chatModel, cfg.Window), nil
	case config.ProviderOllama, "":
		return NewOllamaGenerator(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// Collect drains sr, calling onToken for every non-empty fragment before the
// next one is read, and returns the trimmed concatenation. No callback runs
// once ctx is done.
func Collect(ctx context.Context, sr *schema.StreamReader[string], onToken func(string)) (string, error) {
	defer sr.Close()

	var builder strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return strings.TrimSpace(builder.String()), ctxErr
		}
		if err != nil {
			return strings.TrimSpace(builder.String()), err
		}
		if chunk == "" {
			continue
		}
		if onToken != nil {
			onToken(chunk)
		}
		builder.WriteString(chunk)
	}
	return strings.TrimSpace(builder.String()), nil
}

// stripEcho drops a literal "Assistant:" the model sometimes repeats from the
// prompt cue.
func stripEcho(delta string) string {
	if rest, ok := strings.CutPrefix(delta, assistantLabel); ok {
		return strings.TrimLeft(rest, " ")
	}
	return delta
}
