package graph

import "context"

// Store is the knowledge-graph contract. Repository (Neo4j) and MemoryStore implement it.
//
// Every write is an upsert keyed by id, so repeating a write or racing two identical writes converges
// on a single node or edge.
type Store interface {
	EnsureConstraints(ctx context.Context) error

	// EnsureUser creates the user root if absent and refreshes its last_activity
	EnsureUser(ctx context.Context, userID string) error
	UpsertNode(ctx context.Context, node Node) error
	UpsertEdge(ctx context.Context, edge Edge) error

	FindPatterns(ctx context.Context, userID string) ([]PatternNode, error)
	SearchKnowledge(ctx context.Context, userID, query string, limit int) ([]SearchResult, error)
	UserGraph(ctx context.Context, userID string, depth int) (*Subgraph, error)
	EntityConnections(ctx context.Context, entityID string) ([]EntityConnection, error)

	// DeleteUserGraph removes the user root and every node it owns, returning the number of nodes removed
	DeleteUserGraph(ctx context.Context, userID string) (int, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)

func clampDepth(depth, def, maxDepth int) int {
	if depth < 1 {
		return def
	}
	if depth > maxDepth {
		return maxDepth
	}
	return depth
}
