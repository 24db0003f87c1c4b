package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"deepintrospect/backend/internal/constants"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a chat thread owned by one user
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id" validate:"required"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id" validate:"required"`
	Role           string         `json:"role" validate:"oneof=user assistant"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Insight types the extraction prompts ask for. Other non-empty types are kept as reported.
const (
	InsightBelief     = "belief"
	InsightValue      = "value"
	InsightTrait      = "trait"
	InsightPattern    = "pattern"
	InsightGoal       = "goal"
	InsightHabit      = "habit"
	InsightPreference = "preference"
	InsightChallenge  = "challenge"
	InsightUnknown    = constants.UnknownInsightType
)

// Insight is an atomic, evidenced claim about a user. Insights are never updated after creation.
type Insight struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id" validate:"required"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Type           string         `json:"type" validate:"required"`
	Content        string         `json:"content" validate:"required"`
	Evidence       string         `json:"evidence"`
	Confidence     float64        `json:"confidence" validate:"gte=0,lte=1"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata"`
}

// InsightFilter narrows an insight listing. Zero values match everything; Limit <= 0 means no limit.
type InsightFilter struct {
	Type           string
	ConversationID string
	Limit          int
}

// NormalizeInsightType lower-cases and trims t, mapping empty to unknown
func NormalizeInsightType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return InsightUnknown
	}
	return t
}

var validate = validator.New()

// Validate checks the insight's required fields and confidence range
func (i *Insight) Validate() error {
	if err := validate.Struct(i); err != nil {
		return ErrInvalidRecord{Kind: "insight", Err: err}
	}
	return nil
}

// Validate checks the message's conversation and role
func (m *Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return ErrInvalidRecord{Kind: "message", Err: err}
	}
	return nil
}

// Validate checks the conversation's owner
func (c *Conversation) Validate() error {
	if err := validate.Struct(c); err != nil {
		return ErrInvalidRecord{Kind: "conversation", Err: err}
	}
	return nil
}

// Errors

type ErrInvalidRecord struct {
	Kind string
	Err  error
}

func (e ErrInvalidRecord) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Kind, e.Err)
}

func (e ErrInvalidRecord) Unwrap() error {
	return e.Err
}
