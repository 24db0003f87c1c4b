package graph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Upsert Operations
// ============================================================================

// EnsureUser creates the user root if absent and refreshes last_activity
func (r *Repository) EnsureUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingID
	}

	now := formatTime(time.Now())
	query := `
		MERGE (u:User {id: $userID})
		ON CREATE SET u.created_at = $now
		SET u.last_activity = $now
	`

	_, err := r.runWrite(ctx, query, map[string]any{
		"userID": userID,
		"now":    now,
	})
	r.metrics.GraphWrite("user", err)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// UpsertNode merges node by id under its label. Properties from node overwrite stored ones;
// stored properties absent from node are kept.
func (r *Repository) UpsertNode(ctx context.Context, node Node) error {
	label := node.NodeLabel()
	if !label.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	if node.NodeID() == "" {
		return ErrMissingID
	}

	props := node.Properties()
	// created_at belongs to the first write
	createdAt, hasCreatedAt := props["created_at"]
	delete(props, "created_at")
	if !hasCreatedAt {
		createdAt = formatTime(time.Now())
	}

	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		ON CREATE SET n.created_at = $createdAt
		SET n += $props
	`, label)

	_, err := r.runWrite(ctx, query, map[string]any{
		"id":        node.NodeID(),
		"createdAt": createdAt,
		"props":     props,
	})
	r.metrics.GraphWrite("node", err)
	if err != nil {
		return fmt.Errorf("failed to upsert %s node: %w", label, err)
	}

	r.logger.Debug("Upserted node", zap.String("label", string(label)), zap.String("id", node.NodeID()))
	return nil
}

// UpsertEdge merges a relationship on (from, to, type). Both endpoints must already exist.
func (r *Repository) UpsertEdge(ctx context.Context, edge Edge) error {
	if !edge.FromLabel.Valid() || !edge.ToLabel.Valid() || !edge.Type.Valid() {
		return fmt.Errorf("%w: %s-[%s]->%s", ErrInvalidLabel, edge.FromLabel, edge.Type, edge.ToLabel)
	}
	if edge.FromID == "" || edge.ToID == "" {
		return ErrMissingID
	}

	props := copyProps(edge.Properties)
	createdAt, hasCreatedAt := props["created_at"]
	delete(props, "created_at")
	if !hasCreatedAt {
		createdAt = formatTime(time.Now())
	}

	query := fmt.Sprintf(`
		MATCH (a:%s {id: $fromID})
		MATCH (b:%s {id: $toID})
		MERGE (a)-[rel:%s]->(b)
		ON CREATE SET rel.created_at = $createdAt
		SET rel += $props
		RETURN count(rel) AS matched
	`, edge.FromLabel, edge.ToLabel, edge.Type)

	records, err := r.runWrite(ctx, query, map[string]any{
		"fromID":    edge.FromID,
		"toID":      edge.ToID,
		"createdAt": createdAt,
		"props":     props,
	})
	if err == nil && (len(records) == 0 || getInt64FromRecord(records[0], "matched") == 0) {
		err = fmt.Errorf("%w: %s %s or %s %s", ErrNodeNotFound, edge.FromLabel, edge.FromID, edge.ToLabel, edge.ToID)
	}
	r.metrics.GraphWrite("edge", err)
	if err != nil {
		return fmt.Errorf("failed to upsert %s edge: %w", edge.Type, err)
	}
	return nil
}
