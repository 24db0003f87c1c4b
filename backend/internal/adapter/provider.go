package adapter

import "context"

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn sent to the model
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the text-completion contract the pipeline and chat layer depend on.
// Implementations must be safe for concurrent use.
type Provider interface {
	// GenerateText completes a single prompt under an optional system message.
	// A maxTokens of zero uses the provider default.
	GenerateText(ctx context.Context, prompt, systemMessage string, temperature float64, maxTokens int) (string, error)

	// GenerateChat completes a multi-turn conversation
	GenerateChat(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (string, error)

	// GenerateStream completes a conversation, handing each chunk to onChunk as it arrives,
	// and returns the concatenated text. Returning an error from onChunk stops the stream.
	GenerateStream(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int, onChunk func(string) error) (string, error)
}
