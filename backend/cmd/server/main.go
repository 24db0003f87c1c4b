package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/pkg/config"
	"deepintrospect/backend/pkg/logger"
)

const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting DeepIntrospect API server...")

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
	log.Info("Server exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector()

	kg, closeGraph, err := openGraph(ctx, cfg, m, log)
	if err != nil {
		return err
	}
	defer closeGraph()

	rows, closeRows, err := openRows(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRows()

	c, closeCache := openCache(ctx, cfg, log)
	defer closeCache()

	llm := adapter.NewLLMAdapter(adapter.Settings{
		BaseURL:           cfg.LiteLLMURL,
		APIKey:            cfg.OpenRouterAPIKey,
		Model:             cfg.ModelID,
		MaxTokens:         cfg.LLMMaxTokens,
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
		Burst:             cfg.LLMBurst,
		Metrics:           m,
	})

	a := newApp(cfg, rows, kg, llm, c, m, log)
	a.dispatcher.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(a, cfg.IsProduction()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}

		// queued turns get one job timeout to drain
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.PipelineJobTimeout)
		defer cancelDrain()
		if err := a.dispatcher.Stop(drainCtx); err != nil {
			log.Warn("Pipeline did not drain before shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
