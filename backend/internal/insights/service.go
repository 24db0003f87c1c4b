package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/knowledge"
	"deepintrospect/backend/internal/llmjson"
	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/internal/state"
	apperrors "deepintrospect/backend/pkg/errors"
	"deepintrospect/backend/pkg/logger"
)

// Store persists insight records
type Store interface {
	CreateInsight(ctx context.Context, i *state.Insight) error
	ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error)
	ListInsightsByConversation(ctx context.Context, conversationID string) ([]state.Insight, error)
}

// Config tunes the insight pass
type Config struct {
	CallTimeout time.Duration
	MaxTokens   int
	Metrics     *metrics.Collector
}

// Service records, lists and aggregates insights
type Service struct {
	store  Store
	graph  graph.Store
	llm    adapter.Provider
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the insight service. graphStore may be nil, in which case nothing is mirrored.
func NewService(store Store, graphStore graph.Store, llm adapter.Provider, cfg Config) *Service {
	return &Service{
		store:  store,
		graph:  graphStore,
		llm:    llm,
		cfg:    cfg,
		logger: logger.Named("insights"),
		now:    time.Now,
	}
}

// RecordParams describes a new insight. A nil Confidence records the default.
type RecordParams struct {
	UserID         string
	ConversationID string
	Type           string
	Content        string
	Evidence       string
	Confidence     *float64
	Metadata       map[string]any
}

// RecordInsight appends a new insight
func (s *Service) RecordInsight(ctx context.Context, p RecordParams) (*state.Insight, error) {
	confidence := constants.DefaultInsightConfidence
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	in := &state.Insight{
		ID:             uuid.NewString(),
		UserID:         p.UserID,
		ConversationID: p.ConversationID,
		Type:           state.NormalizeInsightType(p.Type),
		Content:        p.Content,
		Evidence:       p.Evidence,
		Confidence:     confidence,
		CreatedAt:      s.now().UTC(),
		Metadata:       p.Metadata,
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{}
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateInsight(ctx, in); err != nil {
		return nil, apperrors.NewStoreFailed("create_insight", err)
	}
	s.cfg.Metrics.InsightRecorded(in.Type)
	return in, nil
}

// ListInsights returns matching insights, newest first
func (s *Service) ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error) {
	list, err := s.store.ListInsights(ctx, userID, filter)
	if err != nil {
		return nil, apperrors.NewStoreFailed("list_insights", err)
	}
	return list, nil
}

// ConversationInsights returns the insights recorded for one conversation
func (s *Service) ConversationInsights(ctx context.Context, conversationID string) ([]state.Insight, error) {
	list, err := s.store.ListInsightsByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.NewStoreFailed("list_conversation_insights", err)
	}
	return list, nil
}

// Categories groups all of the user's insights by type
func (s *Service) Categories(ctx context.Context, userID string) ([]Category, error) {
	list, err := s.ListInsights(ctx, userID, state.InsightFilter{})
	if err != nil {
		return nil, err
	}
	return Categorize(list), nil
}

// Analyze builds the analysis view over all of the user's insights
func (s *Service) Analyze(ctx context.Context, userID string) (*Analysis, error) {
	list, err := s.ListInsights(ctx, userID, state.InsightFilter{})
	if err != nil {
		return nil, err
	}
	analysis := Analyze(list, s.now())
	return &analysis, nil
}

// ============================================================================
// Insight pass
// ============================================================================

const insightSystem = "You are an AI assistant tasked with extracting meaningful insights about users. Be thoughtful, nuanced, and evidence-based in your analysis."

type rawInsight struct {
	Type     llmjson.Text `json:"type"`
	Content  llmjson.Text `json:"content"`
	Evidence llmjson.Text `json:"evidence"`
}

func insightPrompt(transcript string) string {
	return fmt.Sprintf(`Extract key insights about the user from the following conversation.

Look for:
- Beliefs: What the user believes about themselves, others, or the world
- Values: What the user finds important or prioritizes
- Traits: Personality characteristics or tendencies
- Patterns: Recurring behaviors or thought processes
- Goals: What the user is working towards
- Challenges: What the user is struggling with
- Preferences: What the user likes or dislikes

Format each insight as a JSON object with "type" (belief, value, trait, pattern, goal, challenge, preference),
"content" (the insight itself), and "evidence" (specific text from the conversation that supports this insight).
Return a list of JSON objects.

Conversation:
%s

Insights (as JSON list):`, transcript)
}

// GenerateConversationInsights runs the full insight pass over messages and records every insight it finds.
// A failed call or an unparseable reply yields no insights and no error; an insight that cannot be stored
// is skipped. Traits, goals and habits are mirrored into the knowledge graph.
func (s *Service) GenerateConversationInsights(ctx context.Context, userID, conversationID string, messages []state.Message) []state.Insight {
	recorded := []state.Insight{}
	if len(messages) == 0 {
		return recorded
	}

	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	raw, err := s.llm.GenerateText(callCtx, insightPrompt(knowledge.RenderTranscript(messages)), insightSystem,
		constants.InsightTemperature, s.cfg.MaxTokens)
	if err != nil {
		s.logger.Warn("Insight call failed", zap.String("conversation_id", conversationID), zap.Error(err))
		s.cfg.Metrics.ExtractionFailed("insights", "llm")
		return recorded
	}

	items, err := llmjson.DecodeArray[rawInsight](raw)
	if err != nil {
		s.logger.Warn("Failed to parse insights", zap.Error(apperrors.NewParseFailed("insights", err)))
		s.cfg.Metrics.ExtractionFailed("insights", "parse")
		return recorded
	}
	s.cfg.Metrics.ExtractionResult("insights", len(items))

	for _, item := range items {
		if item.Content == "" {
			continue
		}
		in, err := s.RecordInsight(ctx, RecordParams{
			UserID:         userID,
			ConversationID: conversationID,
			Type:           string(item.Type),
			Content:        string(item.Content),
			Evidence:       string(item.Evidence),
		})
		if err != nil {
			s.logger.Warn("Failed to record insight",
				zap.String("user_id", userID),
				zap.String("type", string(item.Type)),
				zap.Error(err),
			)
			continue
		}
		recorded = append(recorded, *in)
	}

	s.mirror(ctx, userID, recorded)

	s.logger.Info("Generated conversation insights",
		zap.String("user_id", userID),
		zap.String("conversation_id", conversationID),
		zap.Int("parsed", len(items)),
		zap.Int("recorded", len(recorded)),
	)
	return recorded
}

// mirror writes trait, goal and habit insights as graph nodes keyed by the insight id
func (s *Service) mirror(ctx context.Context, userID string, recorded []state.Insight) {
	if s.graph == nil {
		return
	}

	var pending []state.Insight
	for _, in := range recorded {
		if _, _, ok := mirrorNode(in); ok {
			pending = append(pending, in)
		}
	}
	if len(pending) == 0 {
		return
	}

	if err := s.graph.EnsureUser(ctx, userID); err != nil {
		s.logger.Warn("Failed to ensure user node for insights", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, in := range pending {
		node, rel, _ := mirrorNode(in)
		if err := s.graph.UpsertNode(ctx, node); err != nil {
			s.logger.Warn("Failed to mirror insight", zap.String("insight_id", in.ID), zap.Error(err))
			continue
		}
		if err := s.graph.UpsertEdge(ctx, graph.UserEdge(userID, node, rel, in.CreatedAt)); err != nil {
			s.logger.Warn("Failed to link mirrored insight", zap.String("insight_id", in.ID), zap.Error(err))
		}
	}
}

func mirrorNode(in state.Insight) (graph.Node, graph.RelType, bool) {
	base := graph.NodeBase{ID: in.ID, CreatedAt: in.CreatedAt}
	stmt := graph.Statement{Content: in.Content, Evidence: in.Evidence, Confidence: in.Confidence}
	switch in.Type {
	case state.InsightTrait:
		return graph.TraitNode{NodeBase: base, Statement: stmt}, graph.RelHasTrait, true
	case state.InsightGoal:
		return graph.GoalNode{NodeBase: base, Statement: stmt}, graph.RelHasGoal, true
	case state.InsightHabit:
		return graph.HabitNode{NodeBase: base, Statement: stmt}, graph.RelHasHabit, true
	}
	return nil, "", false
}
