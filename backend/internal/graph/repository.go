package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/pkg/logger"
)

// Repository handles all Neo4j database operations
type Repository struct {
	driver  neo4j.DriverWithContext
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, m *metrics.Collector) *Repository {
	return &Repository{
		driver:  driver,
		metrics: m,
		logger:  logger.Named("graph"),
	}
}

// NewDriver opens a Neo4j driver and verifies connectivity
func NewDriver(ctx context.Context, uri, user, password string, maxPoolSize int) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""), func(c *neo4j.Config) {
		if maxPoolSize > 0 {
			c.MaxConnectionPoolSize = maxPoolSize
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}
	return driver, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

// ConstraintStatements returns the schema statements applied by EnsureConstraints
func ConstraintStatements() []string {
	stmts := make([]string, 0, len(Labels))
	for _, label := range Labels {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(string(label)), label,
		))
	}
	return stmts
}

// EnsureConstraints creates one uniqueness constraint on id per label.
// Every statement is attempted; failures are logged and returned together.
func (r *Repository) EnsureConstraints(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	var errs []error
	for _, stmt := range ConstraintStatements() {
		result, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			r.logger.Warn("Failed to create constraint", zap.String("statement", stmt), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to create %d constraints: %w", len(errs), errors.Join(errs...))
	}
	r.logger.Info("Graph constraints ensured", zap.Int("count", len(Labels)))
	return nil
}

// runWrite executes a single statement in a managed write transaction and returns its records
func (r *Repository) runWrite(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

// runRead executes a single statement in a managed read transaction and returns its records
func (r *Repository) runRead(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}
