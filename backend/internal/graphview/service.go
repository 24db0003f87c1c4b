package graphview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/cache"
	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/pkg/logger"
)

type InsightLister interface {
	ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error)
}

type GraphReader interface {
	UserGraph(ctx context.Context, userID string, depth int) (*graph.Subgraph, error)
}

// Service loads a user's insights and knowledge graph and builds the view, caching the result
type Service struct {
	insights InsightLister
	graph    GraphReader
	builder  *Builder
	cache    cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewService wires the view builder. kg and c may be nil.
func NewService(insights InsightLister, kg GraphReader, builder *Builder, c cache.Cache, ttl time.Duration) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{
		insights: insights,
		graph:    kg,
		builder:  builder,
		cache:    c,
		ttl:      ttl,
		logger:   logger.Named("graphview"),
	}
}

// InsightGraph returns the user's insight view. Store failures are reported; graph and model failures
// only shrink the view, and a view shrunk by a failed connection pass is not cached.
func (s *Service) InsightGraph(ctx context.Context, userID string) (*View, error) {
	list, err := s.insights.ListInsights(ctx, userID, state.InsightFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}
	if len(list) == 0 {
		return empty(), nil
	}

	key := fmt.Sprintf("graph:%s:%d:%s", userID, len(list), list[0].ID)
	var cached View
	switch err := s.cache.Get(ctx, key, &cached); {
	case err == nil:
		s.builder.cfg.Metrics.CacheLookup("graph", true)
		return &cached, nil
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn("Graph view cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.builder.cfg.Metrics.CacheLookup("graph", false)

	var kg *graph.Subgraph
	if s.graph != nil {
		sub, err := s.graph.UserGraph(ctx, userID, constants.ViewGraphDepth)
		if err != nil {
			s.logger.Warn("Knowledge graph unavailable for view", zap.String("user_id", userID), zap.Error(err))
		} else {
			kg = sub
		}
	}

	view, complete := s.builder.build(ctx, userID, list, kg)
	if !complete {
		return view, nil
	}
	if err := s.cache.Set(ctx, key, view, s.ttl); err != nil {
		s.logger.Warn("Graph view cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return view, nil
}
