package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"deepintrospect/backend/internal/metrics"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

// Settings configures an LLMAdapter
type Settings struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int

	// MaxAttempts bounds retries per request (default 3)
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries (default 1s)
	Backoff time.Duration

	// RequestsPerSecond and Burst throttle outgoing requests; zero disables throttling
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures is the number of consecutive failed requests that opens the breaker (default 5)
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open (default 30s)
	BreakerCooldown time.Duration

	Metrics *metrics.Collector
}

// LLMAdapter talks to an OpenAI-compatible endpoint (LiteLLM in front of OpenRouter)
type LLMAdapter struct {
	client    *openai.Client
	model     string
	maxTokens int
	mu        sync.RWMutex // Protects model field for concurrent access

	maxAttempts int
	backoff     time.Duration
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	metrics     *metrics.Collector
	logger      *zap.Logger
}

var _ Provider = (*LLMAdapter)(nil)

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(s Settings) *LLMAdapter {
	apiKey := s.APIKey
	// LiteLLM accepts any key when it holds the upstream credentials itself
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(s.BaseURL, "/") + "/v1"

	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.Backoff <= 0 {
		s.Backoff = time.Second
	}
	if s.BreakerFailures == 0 {
		s.BreakerFailures = 5
	}
	if s.BreakerCooldown <= 0 {
		s.BreakerCooldown = 30 * time.Second
	}

	log := logger.Named("llm")

	a := &LLMAdapter{
		client:      openai.NewClientWithConfig(config),
		model:       s.Model,
		maxTokens:   s.MaxTokens,
		maxAttempts: s.MaxAttempts,
		backoff:     s.Backoff,
		metrics:     s.Metrics,
		logger:      log,
	}

	if s.RequestsPerSecond > 0 {
		burst := s.Burst
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), burst)
	}

	failures := s.BreakerFailures
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     s.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Caller cancellations say nothing about the upstream's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return a
}

// SetModel updates the model used by this adapter
func (a *LLMAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter model updated", zap.String("model", model))
	}
}

// GetModel returns the current model
func (a *LLMAdapter) GetModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// GenerateText sends a single prompt with an optional system message
func (a *LLMAdapter) GenerateText(ctx context.Context, prompt, systemMessage string, temperature float64, maxTokens int) (string, error) {
	messages := make([]ChatMessage, 0, 2)
	if systemMessage != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemMessage})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: prompt})
	return a.complete(ctx, "generate_text", messages, temperature, maxTokens)
}

// GenerateChat sends a full conversation
func (a *LLMAdapter) GenerateChat(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (string, error) {
	return a.complete(ctx, "generate_chat", messages, temperature, maxTokens)
}

func (a *LLMAdapter) complete(ctx context.Context, operation string, messages []ChatMessage, temperature float64, maxTokens int) (string, error) {
	req := a.buildRequest(messages, temperature, maxTokens)
	started := time.Now()

	var resp openai.ChatCompletionResponse
	err := a.withRetry(ctx, operation, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	a.metrics.ObserveLLM(operation, started, err)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.ErrLLMNoResponse
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("LLM response generated",
		zap.String("operation", operation),
		zap.String("model", req.Model),
		zap.Int("length", len(content)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return content, nil
}

// GenerateStream streams a completion. Only opening the stream is retried; once chunks have been
// delivered a failure is returned as is.
func (a *LLMAdapter) GenerateStream(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int, onChunk func(string) error) (string, error) {
	req := a.buildRequest(messages, temperature, maxTokens)
	req.Stream = true
	started := time.Now()

	var stream *openai.ChatCompletionStream
	err := a.withRetry(ctx, "generate_stream", func() error {
		var openErr error
		stream, openErr = a.client.CreateChatCompletionStream(ctx, req)
		return openErr
	})
	if err != nil {
		a.metrics.ObserveLLM("generate_stream", started, err)
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			err = fmt.Errorf("stream interrupted: %w", recvErr)
			break
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		sb.WriteString(text)
		if onChunk != nil {
			if cbErr := onChunk(text); cbErr != nil {
				err = cbErr
				break
			}
		}
	}

	a.metrics.ObserveLLM("generate_stream", started, err)
	return sb.String(), err
}

func (a *LLMAdapter) buildRequest(messages []ChatMessage, temperature float64, maxTokens int) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       a.GetModel(),
		Messages:    converted,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
}

// withRetry runs call through the rate limiter and circuit breaker, retrying transient failures
// with linear backoff.
func (a *LLMAdapter) withRetry(ctx context.Context, operation string, call func() error) error {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return apperrors.NewLLMFailed(a.GetModel(), attempts, false, ctx.Err())
			case <-time.After(backoff):
			}
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return apperrors.NewLLMFailed(a.GetModel(), attempts, false, err)
			}
		}

		attempts++
		_, err := a.breaker.Execute(func() (interface{}, error) {
			return nil, call()
		})
		if err == nil {
			return nil
		}
		lastErr = err

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.String("model", a.GetModel()),
		)

		if !isTransient(err) || ctx.Err() != nil {
			break
		}
	}

	return apperrors.NewLLMFailed(a.GetModel(), attempts, isTransient(lastErr), lastErr)
}

// isTransient reports whether a failed request is worth retrying
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// Transport failures and non-JSON gateway bodies
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError || code == 0
}
