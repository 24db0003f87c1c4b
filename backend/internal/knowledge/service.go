package knowledge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/pkg/logger"
)

// Result is the outcome of one ProcessConversation call
type Result struct {
	Candidates Candidates  `json:"candidates"`
	Counts     WriteCounts `json:"created_nodes"`
}

// Service runs extraction against a conversation and serves the user's knowledge graph
type Service struct {
	graph     graph.Store
	extractor *Extractor
	writer    *Writer
	logger    *zap.Logger
}

func NewService(llm adapter.Provider, store graph.Store, cfg ExtractorConfig) *Service {
	return &Service{
		graph:     store,
		extractor: NewExtractor(llm, store, cfg),
		writer:    NewWriter(store),
		logger:    logger.Named("knowledge"),
	}
}

// ProcessConversation extracts candidates from messages and writes them under userID
func (s *Service) ProcessConversation(ctx context.Context, userID, conversationID string, messages []state.Message) Result {
	started := time.Now()
	candidates := s.extractor.Extract(ctx, userID, messages)
	counts := s.writer.Write(ctx, userID, candidates)

	s.logger.Info("Processed conversation knowledge",
		zap.String("user_id", userID),
		zap.String("conversation_id", conversationID),
		zap.Int("entities", counts.Entities),
		zap.Int("concepts", counts.Concepts),
		zap.Int("beliefs_values", counts.BeliefsValues),
		zap.Int("patterns", counts.Patterns),
		zap.Int("relationships", counts.Relationships),
		zap.Int("failures", counts.Failures),
		zap.Duration("elapsed", time.Since(started)),
	)
	return Result{Candidates: candidates, Counts: counts}
}

// UserGraph returns the subgraph within depth hops of the user
func (s *Service) UserGraph(ctx context.Context, userID string, depth int) (*graph.Subgraph, error) {
	if depth <= 0 {
		depth = constants.DefaultGraphDepth
	}
	return s.graph.UserGraph(ctx, userID, depth)
}

func (s *Service) SearchKnowledge(ctx context.Context, userID, query string) ([]graph.SearchResult, error) {
	return s.graph.SearchKnowledge(ctx, userID, query, constants.DefaultSearchLimit)
}

func (s *Service) Patterns(ctx context.Context, userID string) ([]graph.PatternNode, error) {
	return s.graph.FindPatterns(ctx, userID)
}

func (s *Service) EntityConnections(ctx context.Context, entityID string) ([]graph.EntityConnection, error) {
	return s.graph.EntityConnections(ctx, entityID)
}

// DeleteUserGraph removes the user root and every node it owns
func (s *Service) DeleteUserGraph(ctx context.Context, userID string) (int, error) {
	return s.graph.DeleteUserGraph(ctx, userID)
}
