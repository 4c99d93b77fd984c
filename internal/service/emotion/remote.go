package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
)

// secondaryConfidence is assigned whenever the secondary model only yields a
// label. It is a placeholder, not a calibrated value.
const secondaryConfidence = 0.9

const maxResponseBytes = 1 << 20

var (
	ErrUnexpectedShape = errors.New("unexpected classifier response shape")
	ErrModelGone       = errors.New("model is no longer served")
)

// Decoder turns a successful response body into a result.
type Decoder func(body []byte) (analysis.Result, error)

// RemoteStrategy calls a hosted inference model once per Attempt.
type RemoteStrategy struct {
	name    string
	url     string
	token   string
	client  *http.Client
	decoder Decoder
}

// NewRemoteStrategy targets baseURL/model with a bearer token.
func NewRemoteStrategy(name, baseURL, model, token string, client *http.Client, decoder Decoder) *RemoteStrategy {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteStrategy{
		name:    name,
		url:     strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(model, "/"),
		token:   token,
		client:  client,
		decoder: decoder,
	}
}

func (s *RemoteStrategy) Name() string { return s.name }

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

func (s *RemoteStrategy) Attempt(ctx context.Context, text string) Attempt {
	payload, err := json.Marshal(inferenceRequest{Inputs: text})
	if err != nil {
		return failed(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return failed(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return failed(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failed(fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusConflict:
		return retryable(fmt.Errorf("model busy (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusGone:
		return failed(ErrModelGone)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return failed(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	result, err := s.decoder(body)
	if err != nil {
		return failed(err)
	}
	return succeeded(result)
}

type labelScore struct {
	Label string   `json:"label"`
	Score *float64 `json:"score"`
}

type labelObject struct {
	Label         string `json:"label"`
	GeneratedText string `json:"generated_text"`
}

// DecodePrimary expects [[{label, score}, ...]] and takes the max-score label.
func DecodePrimary(body []byte) (analysis.Result, error) {
	var nested [][]labelScore
	if err := json.Unmarshal(body, &nested); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return fromScoreList(nested)
}

// fromScoreList keys scores by canonical label, summing raw labels that
// share one. The top canonical label wins; ties keep the first seen.
func fromScoreList(nested [][]labelScore) (analysis.Result, error) {
	if len(nested) == 0 || len(nested[0]) == 0 {
		return analysis.Result{}, ErrUnexpectedShape
	}

	scores := make(map[string]float64, len(nested[0]))
	order := make([]string, 0, len(nested[0]))
	for _, item := range nested[0] {
		if item.Label == "" || item.Score == nil {
			return analysis.Result{}, ErrUnexpectedShape
		}
		label := analysis.Normalize(item.Label)
		if _, seen := scores[label]; !seen {
			order = append(order, label)
		}
		scores[label] += *item.Score
	}

	top := order[0]
	for _, label := range order[1:] {
		if scores[label] > scores[top] {
			top = label
		}
	}
	return analysis.Result{Label: top, Scores: scores}, nil
}

// DecodeSecondary accepts a bare string, a list of strings, a list of
// label-style objects, or the primary shape.
func DecodeSecondary(body []byte) (analysis.Result, error) {
	var single string
	if err := json.Unmarshal(body, &single); err == nil {
		return fromLabel(single)
	}

	var nested [][]labelScore
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 {
		return fromScoreList(nested)
	}

	var objects []labelObject
	if err := json.Unmarshal(body, &objects); err == nil && len(objects) > 0 {
		for _, obj := range objects {
			if obj.Label != "" {
				return fromLabel(obj.Label)
			}
			if obj.GeneratedText != "" {
				return fromLabel(obj.GeneratedText)
			}
		}
	}

	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		for _, item := range list {
			if strings.TrimSpace(item) != "" {
				return fromLabel(item)
			}
		}
	}

	return analysis.Result{}, ErrUnexpectedShape
}

func fromLabel(raw string) (analysis.Result, error) {
	label := analysis.Normalize(raw)
	if label == "" {
		return analysis.Result{}, ErrUnexpectedShape
	}
	return analysis.Result{Label: label, Scores: map[string]float64{label: secondaryConfidence}}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
