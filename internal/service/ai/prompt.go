package ai

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

const (
	DefaultWindow = 5

	userLabel      = "User:"
	assistantLabel = "Assistant:"
)

const defaultInstructions = "Eres un acompañante empático que conversa en español. " +
	"Responde con calidez y brevedad, valida las emociones de la persona y sugiere ayuda profesional si hay señales de riesgo."

// window returns at most the last n turns.
func window(turns []chat.Turn, n int) []chat.Turn {
	if n <= 0 {
		n = DefaultWindow
	}
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

// BuildPrompt renders the last n turns as a plain completion prompt: system
// turns become instructions, the rest are labelled lines, ending with an
// assistant cue.
func BuildPrompt(turns []chat.Turn, n int) string {
	recent := window(turns, n)

	var instructions []string
	var dialogue strings.Builder
	for _, turn := range recent {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleSystem:
			instructions = append(instructions, content)
		case chat.RoleAssistant:
			dialogue.WriteString(assistantLabel + " " + content + "\n")
		default:
			dialogue.WriteString(userLabel + " " + content + "\n")
		}
	}
	if len(instructions) == 0 {
		instructions = append(instructions, defaultInstructions)
	}

	var builder strings.Builder
	builder.WriteString(strings.Join(instructions, "\n"))
	builder.WriteString("\n\n")
	builder.WriteString(dialogue.String())
	builder.WriteString(assistantLabel)
	return builder.String()
}

// BuildMessages is the chat-model counterpart of BuildPrompt.
func BuildMessages(turns []chat.Turn, n int) []*schema.Message {
	recent := window(turns, n)

	messages := make([]*schema.Message, 0, len(recent)+1)
	hasSystem := false
	for _, turn := range recent {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleSystem:
			hasSystem = true
			messages = append(messages, schema.SystemMessage(content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(content, nil))
		default:
			messages = append(messages, schema.UserMessage(content))
		}
	}
	if !hasSystem {
		messages = append([]*schema.Message{schema.SystemMessage(defaultInstructions)}, messages...)
	}
	return messages
}
