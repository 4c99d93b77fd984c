package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

const maxLineBytes = 1 << 20

// OllamaGenerator talks to a local Ollama server through /api/generate.
type OllamaGenerator struct {
	endpoint string
	model    string
	window   int
	options  ollamaOptions
	client   *http.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func NewOllamaGenerator(cfg config.GenerationConfig, client *http.Client) *OllamaGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaGenerator{
		endpoint: strings.TrimSuffix(cfg.OllamaBaseURL, "/") + "/api/generate",
		model:    cfg.OllamaModel,
		window:   cfg.Window,
		options: ollamaOptions{
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			NumPredict:  cfg.MaxTokens,
		},
		client: client,
	}
}

func (g *OllamaGenerator) Stream(ctx context.Context, turns []chat.Turn) (*schema.StreamReader[string], error) {
	resp, err := g.post(ctx, BuildPrompt(turns, g.window), true)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[string](1)
	go g.relay(ctx, resp.Body, sw)
	return sr, nil
}

// relay reads NDJSON fragments until done, EOF, a closed reader, or ctx
// cancellation. The body is closed on every path.
func (g *OllamaGenerator) relay(ctx context.Context, body io.ReadCloser, sw *schema.StreamWriter[string]) {
	defer body.Close()
	defer sw.Close()

	logger := log.FromCtx(ctx)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			logger.Debug().Err(err).Msg("skipping malformed generation fragment")
			continue
		}
		if chunk.Error != "" {
			sw.Send("", fmt.Errorf("%w: %s", ErrGeneratorUnavailable, chunk.Error))
			return
		}

		if delta := stripEcho(chunk.Response); delta != "" {
			if closed := sw.Send(delta, nil); closed {
				return
			}
		}
		if chunk.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		sw.Send("", fmt.Errorf("read generation stream: %w", err))
	}
}

func (g *OllamaGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.post(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk ollamaChunk
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLineBytes)).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrGeneratorUnavailable, chunk.Error)
	}
	return strings.TrimSpace(stripEcho(chunk.Response)), nil
}

func (g *OllamaGenerator) post(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:   g.model,
		Prompt:  prompt,
		Stream:  stream,
		Options: g.options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrGeneratorUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
