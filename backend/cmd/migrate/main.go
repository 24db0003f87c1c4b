package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/store"
	"deepintrospect/backend/pkg/config"
	"deepintrospect/backend/pkg/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print the schema statements without applying them")
	skipGraph := flag.Bool("skip-graph", false, "Do not touch Neo4j")
	timeout := flag.Duration("timeout", time.Minute, "Overall migration timeout")
	flag.Parse()

	if *dryRun {
		printStatements(os.Stdout)
		return
	}

	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting schema migration...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if !*skipGraph && cfg.GraphStore == "neo4j" {
		if err := migrateGraph(ctx, cfg); err != nil {
			log.Fatal("Graph migration failed", zap.Error(err))
		}
		log.Info("Neo4j constraints applied", zap.Int("statements", len(graph.ConstraintStatements())))
	}

	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; skipping Postgres schema")
	} else {
		if err := migrateRows(ctx, cfg.DatabaseURL); err != nil {
			log.Fatal("Postgres migration failed", zap.Error(err))
		}
		log.Info("Postgres schema applied")
	}

	log.Info("Migration completed successfully!")
}

func migrateGraph(ctx context.Context, cfg *config.Config) error {
	driver, err := graph.NewDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jMaxPoolSize)
	if err != nil {
		return err
	}
	repo := graph.NewRepository(driver, nil)
	defer repo.Close()
	return repo.EnsureConstraints(ctx)
}

func migrateRows(ctx context.Context, databaseURL string) error {
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return store.NewPostgresStore(pool).EnsureSchema(ctx)
}

func printStatements(w io.Writer) {
	fmt.Fprintln(w, "// Neo4j")
	for _, stmt := range graph.ConstraintStatements() {
		fmt.Fprintf(w, "%s;\n", stmt)
	}
	fmt.Fprintln(w, "\n-- Postgres")
	fmt.Fprint(w, store.Schema)
}
