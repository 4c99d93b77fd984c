package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

// ArkGenerator streams through an eino chat model (Volcengine Ark).
type ArkGenerator struct {
	chatModel model.BaseChatModel
	window    int
}

func NewArkGenerator(chatModel model.BaseChatModel, window int) *ArkGenerator {
	return &ArkGenerator{chatModel: chatModel, window: window}
}

func (g *ArkGenerator) Stream(ctx context.Context, turns []chat.Turn) (*schema.StreamReader[string], error) {
	stream, err := g.chatModel.Stream(ctx, BuildMessages(turns, g.window))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}

	// empty fragments are dropped by Collect
	return schema.StreamReaderWithConvert(stream, func(msg *schema.Message) (string, error) {
		if msg == nil {
			return "", nil
		}
		return stripEcho(msg.Content), nil
	}), nil
}

func (g *ArkGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	if msg == nil {
		return "", nil
	}
	return strings.TrimSpace(msg.Content), nil
}
