// Package pipeline runs post-turn extraction off the request path.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/knowledge"
	"deepintrospect/backend/internal/state"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

// ErrBelowThreshold marks a job whose conversation is too short to process
var ErrBelowThreshold = errors.New("conversation below processing threshold")

type MessageSource interface {
	GetMessages(ctx context.Context, conversationID string) ([]state.Message, error)
}

type KnowledgeProcessor interface {
	ProcessConversation(ctx context.Context, userID, conversationID string, messages []state.Message) knowledge.Result
}

type InsightGenerator interface {
	GenerateConversationInsights(ctx context.Context, userID, conversationID string, messages []state.Message) []state.Insight
}

// Processor is the Handler behind the dispatcher: knowledge extraction from
// MinMessagesForExtraction messages, plus the insight pass from MinMessagesForInsights.
type Processor struct {
	messages  MessageSource
	knowledge KnowledgeProcessor
	insights  InsightGenerator
	logger    *zap.Logger
}

func NewProcessor(messages MessageSource, kp KnowledgeProcessor, ig InsightGenerator) *Processor {
	return &Processor{
		messages:  messages,
		knowledge: kp,
		insights:  ig,
		logger:    logger.Named("pipeline"),
	}
}

// Process loads the full message window at run time, so it sees every message persisted before submission
func (p *Processor) Process(ctx context.Context, job Job) error {
	messages, err := p.messages.GetMessages(ctx, job.ConversationID)
	if err != nil {
		return apperrors.NewStoreFailed("get_messages", err)
	}
	if len(messages) < constants.MinMessagesForExtraction {
		return ErrBelowThreshold
	}

	result := p.knowledge.ProcessConversation(ctx, job.UserID, job.ConversationID, messages)
	p.logger.Info("Knowledge extracted",
		zap.String("conversation_id", job.ConversationID),
		zap.Int("messages", len(messages)),
		zap.Int("entities", result.Counts.Entities),
		zap.Int("concepts", result.Counts.Concepts),
		zap.Int("beliefs_values", result.Counts.BeliefsValues),
		zap.Int("patterns", result.Counts.Patterns),
		zap.Int("failures", result.Counts.Failures),
	)

	if len(messages) >= constants.MinMessagesForInsights && p.insights != nil {
		recorded := p.insights.GenerateConversationInsights(ctx, job.UserID, job.ConversationID, messages)
		p.logger.Info("Insights generated",
			zap.String("conversation_id", job.ConversationID),
			zap.Int("insights", len(recorded)),
		)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline job interrupted: %w", err)
	}
	return nil
}

// Generate runs both passes immediately regardless of thresholds. Used by the manual insight endpoint.
func (p *Processor) Generate(ctx context.Context, userID, conversationID string) ([]state.Insight, knowledge.Result, error) {
	messages, err := p.messages.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, knowledge.Result{}, apperrors.NewStoreFailed("get_messages", err)
	}
	if len(messages) == 0 {
		return []state.Insight{}, knowledge.Result{}, nil
	}
	result := p.knowledge.ProcessConversation(ctx, userID, conversationID, messages)
	var recorded []state.Insight
	if p.insights != nil {
		recorded = p.insights.GenerateConversationInsights(ctx, userID, conversationID, messages)
	}
	if recorded == nil {
		recorded = []state.Insight{}
	}
	return recorded, result, nil
}
