package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
)

func turn(role chat.Role, content string) chat.Turn {
	return chat.Turn{Role: role, Content: content}
}

func ollamaConfig(baseURL string) config.GenerationConfig {
	return config.GenerationConfig{
		Provider:      config.ProviderOllama,
		Temperature:   0.7,
		TopP:          0.9,
		MaxTokens:     64,
		Window:        5,
		OllamaBaseURL: baseURL,
		OllamaModel:   "test-model",
	}
}

func TestBuildPromptKeepsWindow(t *testing.T) {
	turns := []chat.Turn{
		turn(chat.RoleUser, "uno"),
		turn(chat.RoleAssistant, "dos"),
		turn(chat.RoleSystem, "Sé breve."),
		turn(chat.RoleUser, "tres"),
		turn(chat.RoleAssistant, "cuatro"),
		turn(chat.RoleUser, "cinco"),
		turn(chat.RoleUser, "seis"),
	}

	prompt := BuildPrompt(turns, 5)

	assert.True(t, strings.HasPrefix(prompt, "Sé breve.\n\n"))
	assert.NotContains(t, prompt, "uno")
	assert.NotContains(t, prompt, "dos")
	assert.Contains(t, prompt, "User: tres\nAssistant: cuatro\nUser: cinco\nUser: seis\n")
	assert.True(t, strings.HasSuffix(prompt, "Assistant:"))
}

func TestBuildPromptDefaultInstructions(t *testing.T) {
	prompt := BuildPrompt([]chat.Turn{turn(chat.RoleUser, "hola")}, 0)
	assert.True(t, strings.HasPrefix(prompt, defaultInstructions))
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages([]chat.Turn{turn(chat.RoleUser, "hola"), turn(chat.RoleAssistant, "qué tal")}, 5)
	require.Len(t, msgs, 3)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
}

func TestOllamaStream(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"response":"Assistant: Lamento","done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"response":" que te sientas","done":false}`)
		fmt.Fprintln(w, `{"response":" triste hoy.","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer server.Close()

	gen := NewOllamaGenerator(ollamaConfig(server.URL), server.Client())
	sr, err := gen.Stream(context.Background(), []chat.Turn{turn(chat.RoleUser, "Me siento muy triste hoy")})
	require.NoError(t, err)

	var tokens []string
	text, err := Collect(context.Background(), sr, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)

	assert.Equal(t, "Lamento que te sientas triste hoy.", text)
	assert.Equal(t, []string{"Lamento", " que te sientas", " triste hoy."}, tokens)
	assert.True(t, got.Stream)
	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.9, got.Options.TopP, 1e-9)
	assert.Contains(t, got.Prompt, "User: Me siento muy triste hoy")
}

func TestOllamaStreamNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	gen := NewOllamaGenerator(ollamaConfig(server.URL), server.Client())
	_, err := gen.Stream(context.Background(), []chat.Turn{turn(chat.RoleUser, "hola")})
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
}

func TestOllamaStreamUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	gen := NewOllamaGenerator(ollamaConfig(url), nil)
	_, err := gen.Stream(context.Background(), []chat.Turn{turn(chat.RoleUser, "hola")})
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
}

func TestOllamaStreamStopsOnDisconnect(t *testing.T) {
	stopped := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(stopped)
		flusher := w.(http.Flusher)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprintf(w, "{\"response\":\"t%d \",\"done\":false}\n", i)
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := NewOllamaGenerator(ollamaConfig(server.URL), server.Client())
	sr, err := gen.Stream(ctx, []chat.Turn{turn(chat.RoleUser, "hola")})
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	_, err = Collect(ctx, sr, func(string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("server kept streaming after disconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		fmt.Fprint(w, `{"response":"  Tristeza y soledad escolar \n","done":true}`)
	}))
	defer server.Close()

	gen := NewOllamaGenerator(ollamaConfig(server.URL), server.Client())
	out, err := gen.Complete(context.Background(), "resume")
	require.NoError(t, err)
	assert.Equal(t, "Tristeza y soledad escolar", out)
}

type fakeChatModel struct {
	chunks []string
	err    error
	input  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = input
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = input
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestArkGeneratorStream(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hola", "", ", aquí estoy."}}
	gen := NewArkGenerator(fake, 5)

	sr, err := gen.Stream(context.Background(), []chat.Turn{turn(chat.RoleUser, "hola")})
	require.NoError(t, err)

	var tokens []string
	text, err := Collect(context.Background(), sr, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)
	assert.Equal(t, "Hola, aquí estoy.", text)
	assert.Equal(t, []string{"Hola", ", aquí estoy."}, tokens)
	require.Len(t, fake.input, 2)
}

func TestArkGeneratorErrors(t *testing.T) {
	gen := NewArkGenerator(&fakeChatModel{err: errors.New("boom")}, 5)

	_, err := gen.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)

	_, err = gen.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(context.Background(), ollamaConfig("http://localhost:11434"), nil)
	require.NoError(t, err)
	assert.IsType(t, &OllamaGenerator{}, gen)

	cfg := ollamaConfig("")
	cfg.Provider = config.ProviderArk
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
