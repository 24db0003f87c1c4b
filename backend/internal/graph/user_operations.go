package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/constants"
)

// ============================================================================
// User Graph Operations
// ============================================================================

// UserGraph returns every node and relationship within depth hops of the user.
// Depth is clamped to [1, MaxGraphDepth]; an unknown user yields an empty graph.
func (r *Repository) UserGraph(ctx context.Context, userID string, depth int) (*Subgraph, error) {
	depth = clampDepth(depth, constants.DefaultGraphDepth, constants.MaxGraphDepth)

	// Variable-length bounds cannot be parameters; depth is a clamped int
	nodeQuery := fmt.Sprintf(`
		MATCH (u:User {id: $userID})
		OPTIONAL MATCH (u)-[*1..%d]-(n)
		WITH u, collect(DISTINCT n) AS others
		UNWIND [u] + others AS node
		RETURN DISTINCT node.id AS id, labels(node) AS labels, properties(node) AS props
	`, depth)

	relQuery := fmt.Sprintf(`
		MATCH p = (u:User {id: $userID})-[*1..%d]-()
		UNWIND relationships(p) AS rel
		WITH DISTINCT rel
		RETURN startNode(rel).id AS source, endNode(rel).id AS target, type(rel) AS type, properties(rel) AS props
	`, depth)

	params := map[string]any{"userID": userID}

	nodeRecords, err := r.runRead(ctx, nodeQuery, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user graph nodes: %w", err)
	}
	relRecords, err := r.runRead(ctx, relQuery, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user graph relationships: %w", err)
	}

	sub := &Subgraph{
		Nodes:         make([]GraphNode, 0, len(nodeRecords)),
		Relationships: make([]Relationship, 0, len(relRecords)),
	}
	for _, record := range nodeRecords {
		sub.Nodes = append(sub.Nodes, graphNodeFromRecord(record))
	}
	for _, record := range relRecords {
		sub.Relationships = append(sub.Relationships, Relationship{
			Source:     getStringFromRecord(record, "source"),
			Target:     getStringFromRecord(record, "target"),
			Type:       getStringFromRecord(record, "type"),
			Properties: getMapFromRecord(record, "props"),
		})
	}

	r.logger.Debug("Fetched user graph",
		zap.String("user_id", userID),
		zap.Int("depth", depth),
		zap.Int("nodes", len(sub.Nodes)),
		zap.Int("relationships", len(sub.Relationships)),
	)
	return sub, nil
}

// EntityConnections returns the nodes directly connected to an entity
func (r *Repository) EntityConnections(ctx context.Context, entityID string) ([]EntityConnection, error) {
	query := `
		MATCH (e:Entity {id: $entityID})-[rel]-(n)
		RETURN n.id AS id, labels(n) AS labels, properties(n) AS props, type(rel) AS relationship,
		       CASE WHEN startNode(rel) = e THEN 'outgoing' ELSE 'incoming' END AS direction
	`

	records, err := r.runRead(ctx, query, map[string]any{"entityID": entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entity connections: %w", err)
	}

	connections := make([]EntityConnection, 0, len(records))
	for _, record := range records {
		connections = append(connections, EntityConnection{
			Node:         graphNodeFromRecord(record),
			Relationship: getStringFromRecord(record, "relationship"),
			Direction:    getStringFromRecord(record, "direction"),
		})
	}
	return connections, nil
}

// DeleteUserGraph removes the user root and every non-user node it points to
func (r *Repository) DeleteUserGraph(ctx context.Context, userID string) (int, error) {
	query := `
		MATCH (u:User {id: $userID})
		OPTIONAL MATCH (u)-->(n)
		WHERE NOT n:User
		WITH u, collect(DISTINCT n) AS owned
		FOREACH (x IN owned | DETACH DELETE x)
		DETACH DELETE u
		RETURN size(owned) + 1 AS deleted
	`

	records, err := r.runWrite(ctx, query, map[string]any{"userID": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete user graph: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	deleted := int(getInt64FromRecord(records[0], "deleted"))
	r.logger.Info("Deleted user graph", zap.String("user_id", userID), zap.Int("nodes", deleted))
	return deleted, nil
}
