package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "deepintrospect/backend/pkg/errors"
)

func completionBody(content string) string {
	return fmt.Sprintf(`{"id":"cmpl-1","object":"chat.completion","created":1,"model":"test-model",`+
		`"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, content)
}

// newTestServer serves /v1/chat/completions with handler and counts hits
func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, hit int32)) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt32(&hits, 1)
		handler(w, r, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testSettings(baseURL string) Settings {
	return Settings{
		BaseURL:         baseURL,
		Model:           "test-model",
		MaxTokens:       256,
		MaxAttempts:     3,
		Backoff:         time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

func TestGenerateText_SendsSystemAndUserMessages(t *testing.T) {
	var got struct {
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`[{"name":"Paris"}]`)))
	})

	a := NewLLMAdapter(testSettings(srv.URL))
	text, err := a.GenerateText(context.Background(), "extract please", "you extract", 0.2, 0)
	require.NoError(t, err)

	assert.Equal(t, `[{"name":"Paris"}]`, text)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "you extract", got.Messages[0].Content)
	assert.Equal(t, RoleUser, got.Messages[1].Role)
	assert.InDelta(t, 0.2, got.Temperature, 0.0001)
	assert.Equal(t, 256, got.MaxTokens, "zero max tokens should fall back to the adapter default")
}

func TestGenerateText_RetriesTransientFailures(t *testing.T) {
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request, hit int32) {
		if hit == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok")))
	})

	a := NewLLMAdapter(testSettings(srv.URL))
	text, err := a.GenerateText(context.Background(), "p", "", 0.3, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestGenerateText_DoesNotRetryClientErrors(t *testing.T) {
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	a := NewLLMAdapter(testSettings(srv.URL))
	_, err := a.GenerateText(context.Background(), "p", "", 0.3, 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeLLM))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestGenerateText_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	s := testSettings(srv.URL)
	s.MaxAttempts = 1
	s.BreakerFailures = 2
	a := NewLLMAdapter(s)

	for i := 0; i < 2; i++ {
		_, err := a.GenerateText(context.Background(), "p", "", 0.3, 0)
		require.Error(t, err)
	}

	_, err := a.GenerateText(context.Background(), "p", "", 0.3, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), atomic.LoadInt32(hits), "open breaker must not reach the upstream")
}

func TestGenerateText_NoChoices(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	})

	a := NewLLMAdapter(testSettings(srv.URL))
	_, err := a.GenerateText(context.Background(), "p", "", 0.3, 0)
	assert.ErrorIs(t, err, apperrors.ErrLLMNoResponse)
}

func TestGenerateStream_DeliversChunks(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	a := NewLLMAdapter(testSettings(srv.URL))
	var chunks []string
	full, err := a.GenerateStream(context.Background(),
		[]ChatMessage{{Role: RoleUser, Content: "hi"}}, 0.7, 0,
		func(c string) error {
			chunks = append(chunks, c)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", full)
	assert.Equal(t, []string{"Hel", "lo", "!"}, chunks)
}

func TestSetModel(t *testing.T) {
	a := NewLLMAdapter(testSettings("http://localhost:1"))
	a.SetModel("")
	assert.Equal(t, "test-model", a.GetModel())
	a.SetModel("other")
	assert.Equal(t, "other", a.GetModel())
}

// TestLLMAdapter_LiveEndpoint requires a running LiteLLM instance
func TestLLMAdapter_LiveEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	baseURL := os.Getenv("LITELLM_URL")
	if baseURL == "" {
		t.Skip("LITELLM_URL not set")
	}

	a := NewLLMAdapter(Settings{BaseURL: baseURL, APIKey: os.Getenv("OPENROUTER_API_KEY"), Model: os.Getenv("MODEL_ID")})
	text, err := a.GenerateText(context.Background(), "Say hello in one sentence.", "You are a helpful assistant.", 0.3, 64)
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if text == "" {
		t.Error("Expected non-empty content in response")
	}
}
