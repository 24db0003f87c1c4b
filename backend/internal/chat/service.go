// Package chat runs user-facing conversation turns and hands finished turns to the pipeline.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graphview"
	"deepintrospect/backend/internal/pipeline"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/internal/summary"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

var ErrEmptyMessage = errors.New("message content is empty")

const systemPrompt = `You are DeepIntrospect AI, a self-reflection companion that helps users understand themselves better through conversation.

As you chat with users:
- Be empathetic, thoughtful and insightful
- Ask probing but respectful questions that help users reflect on their thoughts, beliefs, patterns and behaviors
- Maintain continuity across the conversation
- Avoid generic platitudes or shallow responses
- When appropriate, offer observations about patterns you notice, but stay open to correction
- Tailor your responses to what you learn about the user

You are here to help users understand themselves, not to give generic advice or act as a medical professional.`

const welcomeMessage = `Hello! I'm DeepIntrospect AI, here to help you better understand yourself through thoughtful conversation. As we talk, I'll learn about your thoughts, patterns and perspectives.

How are you feeling today, and what would you like to explore or reflect on?`

const (
	summarySystem      = "You are an AI assistant tasked with summarizing conversations. Create a concise summary that captures the main topics and insights from the conversation."
	NoMessagesSummary  = "No messages in this conversation."
	titleTimeLayout    = "2006-01-02 15:04"
	defaultTitlePrefix = "Conversation "
)

// Store is the conversation half of the row store
type Store interface {
	CreateConversation(ctx context.Context, c *state.Conversation) error
	GetConversation(ctx context.Context, id string) (*state.Conversation, error)
	AddMessage(ctx context.Context, m *state.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]state.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]state.Message, error)
}

// Submitter accepts post-turn jobs without blocking
type Submitter interface {
	Submit(job pipeline.Job) bool
}

type InsightLister interface {
	ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, userID string, list []state.Insight) summary.UserSummary
}

type GraphViewer interface {
	InsightGraph(ctx context.Context, userID string) (*graphview.View, error)
}

// Config tunes a Service
type Config struct {
	MaxTokens   int
	CallTimeout time.Duration
}

// Service runs conversation turns
type Service struct {
	store     Store
	llm       adapter.Provider
	pipeline  Submitter
	insights  InsightLister
	summaries Summarizer
	views     GraphViewer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the chat surface. The read-side collaborators are only needed by UserInsights and may be nil.
func NewService(store Store, llm adapter.Provider, submitter Submitter, insights InsightLister, summaries Summarizer, views GraphViewer, cfg Config) *Service {
	return &Service{
		store:     store,
		llm:       llm,
		pipeline:  submitter,
		insights:  insights,
		summaries: summaries,
		views:     views,
		cfg:       cfg,
		logger:    logger.Named("chat"),
		now:       time.Now,
	}
}

// Started is a new conversation together with its opening assistant message
type Started struct {
	Conversation *state.Conversation `json:"conversation"`
	Welcome      *state.Message      `json:"welcome_message"`
}

// StartConversation creates a conversation and posts the welcome message. An empty title gets a
// timestamped default.
func (s *Service) StartConversation(ctx context.Context, userID, title string) (*Started, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitlePrefix + s.now().UTC().Format(titleTimeLayout)
	}
	conv := &state.Conversation{UserID: userID, Title: title}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, apperrors.NewStoreFailed("create_conversation", err)
	}

	welcome := &state.Message{ConversationID: conv.ID, Role: state.RoleAssistant, Content: welcomeMessage}
	if err := s.store.AddMessage(ctx, welcome); err != nil {
		return nil, apperrors.NewStoreFailed("add_message", err)
	}

	s.logger.Info("Conversation started",
		zap.String("user_id", userID),
		zap.String("conversation_id", conv.ID),
	)
	return &Started{Conversation: conv, Welcome: welcome}, nil
}

// SendMessage persists the user message, generates and persists the reply, then queues background processing.
// Pipeline failures never surface here.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) (*state.Message, error) {
	conv, history, err := s.prepareTurn(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	reply, err := s.llm.GenerateChat(ctx, history, constants.ChatTemperature, s.cfg.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}
	return s.finishTurn(ctx, conv, reply)
}

// StreamMessage is SendMessage with the reply delivered to onChunk as it is generated.
// A chunk error aborts the turn before the reply is persisted.
func (s *Service) StreamMessage(ctx context.Context, conversationID, content string, onChunk func(string) error) (*state.Message, error) {
	conv, history, err := s.prepareTurn(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	reply, err := s.llm.GenerateStream(ctx, history, constants.ChatTemperature, s.cfg.MaxTokens, onChunk)
	if err != nil {
		return nil, fmt.Errorf("failed to stream reply: %w", err)
	}
	return s.finishTurn(ctx, conv, reply)
}

func (s *Service) prepareTurn(ctx context.Context, conversationID, content string) (*state.Conversation, []adapter.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil, ErrEmptyMessage
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msg := &state.Message{ConversationID: conv.ID, Role: state.RoleUser, Content: content}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, nil, apperrors.NewStoreFailed("add_message", err)
	}

	recent, err := s.store.RecentMessages(ctx, conv.ID, constants.ChatContextLimit)
	if err != nil {
		return nil, nil, apperrors.NewStoreFailed("recent_messages", err)
	}
	return conv, buildHistory(recent), nil
}

func (s *Service) finishTurn(ctx context.Context, conv *state.Conversation, reply string) (*state.Message, error) {
	msg := &state.Message{ConversationID: conv.ID, Role: state.RoleAssistant, Content: reply}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, apperrors.NewStoreFailed("add_message", err)
	}

	if s.pipeline != nil {
		s.pipeline.Submit(pipeline.Job{
			UserID:         conv.UserID,
			ConversationID: conv.ID,
			TurnID:         msg.ID,
		})
	}
	return msg, nil
}

func buildHistory(recent []state.Message) []adapter.ChatMessage {
	history := make([]adapter.ChatMessage, 0, len(recent)+1)
	history = append(history, adapter.ChatMessage{Role: adapter.RoleSystem, Content: systemPrompt})
	for _, m := range recent {
		role := adapter.RoleUser
		if m.Role == state.RoleAssistant {
			role = adapter.RoleAssistant
		}
		history = append(history, adapter.ChatMessage{Role: role, Content: m.Content})
	}
	return history
}

// Messages returns the conversation chronologically
func (s *Service) Messages(ctx context.Context, conversationID string) ([]state.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, conversationID)
}

// SummarizeConversation returns a one-paragraph summary of the conversation
func (s *Service) SummarizeConversation(ctx context.Context, conversationID string) (string, error) {
	messages, err := s.Messages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return NoMessagesSummary, nil
	}

	var b strings.Builder
	b.WriteString("Summarize the following conversation in a concise paragraph:\n\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n\n", roleName(m.Role), m.Content)
	}
	b.WriteString("Summary:")

	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}
	text, err := s.llm.GenerateText(callCtx, b.String(), summarySystem, constants.SummaryTemperature, s.cfg.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to summarize conversation: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func roleName(role string) string {
	if role == state.RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// Overview is everything the insight page shows for a user
type Overview struct {
	Insights []state.Insight     `json:"insights"`
	Summary  summary.UserSummary `json:"summary"`
	Graph    *graphview.View     `json:"graph"`
}

// UserInsights assembles the user's insights, summary and graph view. Only an insight store failure
// is returned; the summary and graph degrade on their own.
func (s *Service) UserInsights(ctx context.Context, userID string) (*Overview, error) {
	list, err := s.insights.ListInsights(ctx, userID, state.InsightFilter{})
	if err != nil {
		return nil, apperrors.NewStoreFailed("list_insights", err)
	}
	if list == nil {
		list = []state.Insight{}
	}

	out := &Overview{Insights: list, Summary: summary.NoInsights(), Graph: &graphview.View{Nodes: []graphview.Node{}, Links: []graphview.Link{}}}
	if s.summaries != nil {
		out.Summary = s.summaries.Summarize(ctx, userID, list)
	}
	if s.views != nil {
		view, err := s.views.InsightGraph(ctx, userID)
		if err != nil {
			s.logger.Warn("Insight graph unavailable", zap.String("user_id", userID), zap.Error(err))
		} else {
			out.Graph = view
		}
	}
	return out, nil
}
