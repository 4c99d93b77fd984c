package emotion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/config"
)

type fakeHub struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(n int) (int, string)
}

func newFakeHub() *fakeHub {
	return &fakeHub{calls: map[string]int{}, handlers: map[string]func(int) (int, string){}}
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.calls[r.URL.Path]++
	n := h.calls[r.URL.Path]
	handler := h.handlers[r.URL.Path]
	h.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if handler == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	status, body := handler(n)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (h *fakeHub) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[path]
}

func testConfig(baseURL string) config.ClassifierConfig {
	return config.ClassifierConfig{
		Token:          "secret",
		BaseURL:        baseURL,
		PrimaryModel:   "primary",
		SecondaryModel: "secondary",
		Timeout:        time.Second,
		Retries:        2,
		RetryBackoff:   time.Millisecond,
		CacheSize:      10,
		CacheTTL:       time.Hour,
	}
}

func TestClassifyRetriesBusyPrimary(t *testing.T) {
	hub := newFakeHub()
	hub.handlers["/primary"] = func(n int) (int, string) {
		if n < 3 {
			return http.StatusServiceUnavailable, `{"error":"Model is loading"}`
		}
		return http.StatusOK, `[[{"label":"sadness","score":0.8},{"label":"joy","score":0.1}]]`
	}
	server := httptest.NewServer(hub)
	defer server.Close()

	svc := NewService(testConfig(server.URL))
	result := svc.Classify(context.Background(), "Me siento muy triste hoy")

	assert.Equal(t, analysis.Sadness, result.Label)
	assert.InDelta(t, 0.8, result.Scores[analysis.Sadness], 1e-9)
	assert.NotContains(t, result.Scores, "sadness")
	assert.Equal(t, 3, hub.count("/primary"))
	assert.Equal(t, 0, hub.count("/secondary"))
}

func TestClassifyGoneModelFallsBackWithoutRetry(t *testing.T) {
	hub := newFakeHub()
	hub.handlers["/primary"] = func(int) (int, string) { return http.StatusGone, `{}` }
	hub.handlers["/secondary"] = func(int) (int, string) { return http.StatusOK, `"joy"` }
	server := httptest.NewServer(hub)
	defer server.Close()

	svc := NewService(testConfig(server.URL))
	result := svc.Classify(context.Background(), "hola")

	assert.Equal(t, analysis.Joy, result.Label)
	assert.Equal(t, map[string]float64{analysis.Joy: 0.9}, result.Scores)
	assert.Equal(t, 1, hub.count("/primary"))
	assert.Equal(t, 1, hub.count("/secondary"))
}

func TestClassifyExhaustedRetriesMoveOn(t *testing.T) {
	hub := newFakeHub()
	hub.handlers["/primary"] = func(int) (int, string) { return http.StatusConflict, `{}` }
	hub.handlers["/secondary"] = func(int) (int, string) { return http.StatusOK, `[{"label":"miedo"}]` }
	server := httptest.NewServer(hub)
	defer server.Close()

	svc := NewService(testConfig(server.URL))
	result := svc.Classify(context.Background(), "tengo miedo")

	assert.Equal(t, analysis.Fear, result.Label)
	assert.Equal(t, 3, hub.count("/primary"))
}

func TestClassifyFallsBackToHeuristic(t *testing.T) {
	hub := newFakeHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	svc := NewService(testConfig(server.URL))
	result := svc.Classify(context.Background(), "Me siento muy triste hoy")

	assert.Equal(t, analysis.Sadness, result.Label)
	assert.Equal(t, 1, hub.count("/primary"))
	assert.Equal(t, 1, hub.count("/secondary"))
}

func TestClassifyUsesCache(t *testing.T) {
	hub := newFakeHub()
	hub.handlers["/primary"] = func(int) (int, string) {
		return http.StatusOK, `[[{"label":"anger","score":0.7}]]`
	}
	server := httptest.NewServer(hub)
	defer server.Close()

	svc := NewService(testConfig(server.URL))
	first := svc.Classify(context.Background(), "Estoy harto")
	second := svc.Classify(context.Background(), "  estoy   HARTO ")

	assert.Equal(t, analysis.Anger, first.Label)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, hub.count("/primary"))
}

func TestClassifyWithoutCredential(t *testing.T) {
	hub := newFakeHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Token = ""
	svc := NewService(cfg)

	result := svc.Classify(context.Background(), "Me siento muy triste hoy")
	assert.Equal(t, analysis.NeutralResult(1.0), result)
	assert.Equal(t, 0, hub.count("/primary"))
	assert.False(t, svc.Enabled())
}

func TestClassifyEmptyText(t *testing.T) {
	svc := NewService(testConfig("http://127.0.0.1:0"), WithStrategies())
	assert.Equal(t, analysis.NeutralResult(1.0), svc.Classify(context.Background(), "   "))
}

func TestClassifyHeuristicOnly(t *testing.T) {
	svc := NewService(testConfig("http://127.0.0.1:0"), WithStrategies())
	result := svc.Classify(context.Background(), "Lamento que te sientas triste hoy.")
	assert.Equal(t, analysis.Sadness, result.Label)
}

func TestDecodeSecondaryShapes(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		label string
	}{
		{"string", `"Tristeza"`, analysis.Sadness},
		{"string list", `["", "enojo"]`, analysis.Anger},
		{"label objects", `[{"label":"miedo"}]`, analysis.Fear},
		{"generated text", `[{"generated_text":"sorpresa"}]`, analysis.Surprise},
		{"primary shape", `[[{"label":"love","score":0.8},{"label":"joy","score":0.2}]]`, analysis.Love},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := DecodeSecondary([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.label, result.Label)
		})
	}

	_, err := DecodeSecondary([]byte(`{"unexpected":true}`))
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}

func TestDecodePrimaryRejectsEmpty(t *testing.T) {
	_, err := DecodePrimary([]byte(`[[]]`))
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = DecodePrimary([]byte(`"joy"`))
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}

func TestDecodePrimaryCanonicalScores(t *testing.T) {
	result, err := DecodePrimary([]byte(`[[{"label":"joy","score":0.3},{"label":"fear","score":0.25},{"label":"miedo","score":0.2},{"label":"others","score":0.25}]]`))
	require.NoError(t, err)

	assert.Equal(t, analysis.Fear, result.Label)
	assert.InDelta(t, 0.45, result.Scores[analysis.Fear], 1e-9)
	assert.InDelta(t, 0.3, result.Scores[analysis.Joy], 1e-9)
	assert.Contains(t, result.Scores, result.Label)
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	cache := NewCache(2, time.Hour)
	cache.Set("uno", analysis.NeutralResult(1))
	cache.Set("dos", analysis.NeutralResult(1))
	cache.Set("tres", analysis.NeutralResult(1))

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("uno")
	assert.False(t, ok)
	_, ok = cache.Get("tres")
	assert.True(t, ok)
}

func TestCacheKeyNormalizes(t *testing.T) {
	assert.Equal(t, CacheKey("Hola  Mundo"), CacheKey(" hola mundo\n"))
	assert.NotEqual(t, CacheKey("hola"), CacheKey("adios"))
}

func TestCacheConcurrentAccess(t *testing.T) {
	const (
		workers    = 16
		iterations = 500
		capacity   = 50
	)
	cache := NewCache(capacity, time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				text := fmt.Sprintf("mensaje %d-%d", w, i%80)
				cache.Set(text, analysis.Result{Label: analysis.Joy, Scores: map[string]float64{analysis.Joy: 1}})
				if got, ok := cache.Get(text); ok {
					assert.Equal(t, analysis.Joy, got.Label)
					assert.Equal(t, 1.0, got.Scores[analysis.Joy])
				}
				assert.LessOrEqual(t, cache.Len(), capacity)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), capacity)
	assert.Positive(t, cache.Len())
}

func TestClassifyConcurrentCallers(t *testing.T) {
	svc := NewService(testConfig("http://127.0.0.1:0"), WithStrategies())
	texts := []string{"Me siento muy triste hoy", "Estoy feliz", "Tengo miedo", "Hola"}
	want := make([]analysis.Result, len(texts))
	for i, text := range texts {
		want[i] = analysis.Heuristic(text)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				idx := i % len(texts)
				assert.Equal(t, want[idx].Label, svc.Classify(context.Background(), texts[idx]).Label)
			}
		}()
	}
	wg.Wait()
}
