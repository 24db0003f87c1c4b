package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/cache"
	"deepintrospect/backend/internal/chat"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/graphview"
	"deepintrospect/backend/internal/insights"
	"deepintrospect/backend/internal/knowledge"
	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/internal/pipeline"
	"deepintrospect/backend/internal/store"
	"deepintrospect/backend/internal/summary"
	"deepintrospect/backend/pkg/config"
)

// app is the component graph the HTTP layer serves
type app struct {
	rows       store.Store
	chat       *chat.Service
	insights   *insights.Service
	knowledge  *knowledge.Service
	summaries  *summary.Synthesizer
	views      *graphview.Service
	processor  *pipeline.Processor
	dispatcher *pipeline.Dispatcher
	metrics    *metrics.Collector
	log        *zap.Logger
}

// newApp wires every service from its collaborators. The dispatcher is created but not started.
func newApp(cfg *config.Config, rows store.Store, kg graph.Store, llm adapter.Provider, c cache.Cache, m *metrics.Collector, log *zap.Logger) *app {
	knowledgeSvc := knowledge.NewService(llm, kg, knowledge.ExtractorConfig{
		CallTimeout: cfg.ExtractionCallTimeout,
		MaxTokens:   cfg.LLMMaxTokens,
		Metrics:     m,
	})
	insightSvc := insights.NewService(rows, kg, llm, insights.Config{
		CallTimeout: cfg.ExtractionCallTimeout,
		MaxTokens:   cfg.LLMMaxTokens,
		Metrics:     m,
	})
	summaries := summary.NewSynthesizer(rows, kg, llm, c, summary.Config{
		CallTimeout: cfg.ExtractionCallTimeout,
		MaxTokens:   cfg.LLMMaxTokens,
		CacheTTL:    cfg.SummaryCacheTTL,
		Metrics:     m,
	})
	builder := graphview.NewBuilder(llm, graphview.Config{
		CallTimeout: cfg.ExtractionCallTimeout,
		MaxTokens:   cfg.LLMMaxTokens,
		Metrics:     m,
	})
	views := graphview.NewService(rows, kg, builder, c, cfg.SummaryCacheTTL)

	processor := pipeline.NewProcessor(rows, knowledgeSvc, insightSvc)
	dispatcher := pipeline.NewDispatcher(processor, pipeline.DispatcherConfig{
		Workers:    cfg.PipelineWorkers,
		QueueSize:  cfg.PipelineQueueSize,
		JobTimeout: cfg.PipelineJobTimeout,
		Metrics:    m,
	})

	chatSvc := chat.NewService(rows, llm, dispatcher, rows, summaries, views, chat.Config{
		MaxTokens:   cfg.LLMMaxTokens,
		CallTimeout: cfg.ExtractionCallTimeout,
	})

	return &app{
		rows:       rows,
		chat:       chatSvc,
		insights:   insightSvc,
		knowledge:  knowledgeSvc,
		summaries:  summaries,
		views:      views,
		processor:  processor,
		dispatcher: dispatcher,
		metrics:    m,
		log:        log,
	}
}

// openGraph returns the configured knowledge graph store and its closer
func openGraph(ctx context.Context, cfg *config.Config, m *metrics.Collector, log *zap.Logger) (graph.Store, func(), error) {
	if cfg.GraphStore == "memory" {
		log.Warn("Using in-memory knowledge graph; data is lost on restart")
		return graph.NewMemoryStore(m), func() {}, nil
	}

	driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jMaxPoolSize)
	if err != nil {
		return nil, nil, err
	}
	repo := graph.NewRepository(driver, m)
	if err := repo.EnsureConstraints(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("failed to ensure graph constraints: %w", err)
	}
	closer := func() {
		if err := repo.Close(); err != nil {
			log.Warn("Failed to close Neo4j driver", zap.Error(err))
		}
	}
	return repo, closer, nil
}

// openRows returns Postgres when DATABASE_URL is set, otherwise the in-memory store
func openRows(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory conversation store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return pg, pool.Close, nil
}

// openCache returns Redis when REDIS_URL is set. An unreachable Redis disables caching rather than failing startup.
func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.Cache, func()) {
	if cfg.RedisURL == "" {
		return cache.Nop{}, func() {}
	}
	rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, "deepintrospect:")
	if err != nil {
		log.Warn("Redis unavailable; caching disabled", zap.Error(err))
		return cache.Nop{}, func() {}
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			log.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
}
