package adapter

import (
	"context"
	"strings"
	"sync"
)

// MockCall records one request made to a MockProvider
type MockCall struct {
	Method        string
	Prompt        string
	SystemMessage string
	Messages      []ChatMessage
	Temperature   float64
	MaxTokens     int
}

// MockProvider is a configurable Provider for tests.
// Respond, when set, decides every reply; otherwise Response and Err are returned.
// It is safe for concurrent use.
type MockProvider struct {
	Response string
	Err      error
	Respond  func(call MockCall) (string, error)

	// StreamChunks, when set, is what GenerateStream emits
	StreamChunks []string

	mu    sync.Mutex
	calls []MockCall
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider returns a mock that answers every request with response
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

func (m *MockProvider) GenerateText(ctx context.Context, prompt, systemMessage string, temperature float64, maxTokens int) (string, error) {
	return m.answer(ctx, MockCall{
		Method:        "generate_text",
		Prompt:        prompt,
		SystemMessage: systemMessage,
		Temperature:   temperature,
		MaxTokens:     maxTokens,
	})
}

func (m *MockProvider) GenerateChat(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (string, error) {
	return m.answer(ctx, MockCall{
		Method:      "generate_chat",
		Messages:    append([]ChatMessage(nil), messages...),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}

func (m *MockProvider) GenerateStream(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int, onChunk func(string) error) (string, error) {
	full, err := m.answer(ctx, MockCall{
		Method:      "generate_stream",
		Messages:    append([]ChatMessage(nil), messages...),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	chunks := m.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{full}
	}
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c)
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return sb.String(), err
			}
		}
	}
	return sb.String(), nil
}

func (m *MockProvider) answer(ctx context.Context, call MockCall) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	respond := m.Respond
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if respond != nil {
		return respond(call)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Calls returns a copy of every recorded call
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of recorded calls
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
