package graph

import (
	"context"
	"fmt"
	"strings"

	"deepintrospect/backend/internal/constants"
)

// ============================================================================
// Search Operations
// ============================================================================

// FindPatterns returns the user's patterns, highest confidence first
func (r *Repository) FindPatterns(ctx context.Context, userID string) ([]PatternNode, error) {
	query := `
		MATCH (u:User {id: $userID})-[:HAS_PATTERN]->(p:Pattern)
		RETURN properties(p) AS props
		ORDER BY coalesce(p.confidence, 0.0) DESC, p.created_at ASC
	`

	records, err := r.runRead(ctx, query, map[string]any{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to find patterns: %w", err)
	}

	patterns := make([]PatternNode, 0, len(records))
	for _, record := range records {
		patterns = append(patterns, patternFromProperties(getMapFromRecord(record, "props")))
	}
	return patterns, nil
}

// SearchKnowledge finds nodes adjacent to the user whose name, content or description contains query,
// ignoring case
func (r *Repository) SearchKnowledge(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit < 1 {
		limit = constants.DefaultSearchLimit
	}

	searchQuery := `
		MATCH (u:User {id: $userID})-[r]-(n)
		WHERE toLower(coalesce(n.name, '')) CONTAINS $query
		   OR toLower(coalesce(n.content, '')) CONTAINS $query
		   OR toLower(coalesce(n.description, '')) CONTAINS $query
		RETURN n.id AS id, labels(n) AS labels, properties(n) AS props, type(r) AS relationship
		ORDER BY n.created_at DESC
		LIMIT $limit
	`

	records, err := r.runRead(ctx, searchQuery, map[string]any{
		"userID": userID,
		"query":  strings.ToLower(query),
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge: %w", err)
	}

	results := make([]SearchResult, 0, len(records))
	for _, record := range records {
		results = append(results, SearchResult{
			Node:         graphNodeFromRecord(record),
			Relationship: getStringFromRecord(record, "relationship"),
		})
	}
	return results, nil
}
