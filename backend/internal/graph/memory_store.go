package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"deepintrospect/backend/internal/constants"
	"deepintrospect/backend/internal/metrics"
)

type nodeKey struct {
	label Label
	id    string
}

type edgeKey struct {
	from    nodeKey
	to      nodeKey
	relType RelType
}

// MemoryStore is an in-process Store with the same merge semantics as Repository.
// It backs tests and single-process deployments without Neo4j.
type MemoryStore struct {
	mu        sync.RWMutex
	nodes     map[nodeKey]map[string]any
	nodeOrder []nodeKey
	edges     map[edgeKey]map[string]any
	edgeOrder []edgeKey
	metrics   *metrics.Collector
}

// NewMemoryStore creates an empty in-memory graph
func NewMemoryStore(m *metrics.Collector) *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[nodeKey]map[string]any),
		edges:   make(map[edgeKey]map[string]any),
		metrics: m,
	}
}

// EnsureConstraints is a no-op; uniqueness is structural here
func (s *MemoryStore) EnsureConstraints(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) EnsureUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingID
	}
	now := formatTime(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	key := nodeKey{LabelUser, userID}
	props, ok := s.nodes[key]
	if !ok {
		props = map[string]any{"id": userID, "created_at": now}
		s.nodes[key] = props
		s.nodeOrder = append(s.nodeOrder, key)
	}
	props["last_activity"] = now
	s.metrics.GraphWrite("user", nil)
	return nil
}

func (s *MemoryStore) UpsertNode(ctx context.Context, node Node) error {
	label := node.NodeLabel()
	if !label.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	if node.NodeID() == "" {
		return ErrMissingID
	}
	incoming := node.Properties()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := nodeKey{label, node.NodeID()}
	props, ok := s.nodes[key]
	if !ok {
		props = map[string]any{}
		if _, has := incoming["created_at"]; !has {
			props["created_at"] = formatTime(time.Now())
		}
		s.nodes[key] = props
		s.nodeOrder = append(s.nodeOrder, key)
	} else {
		// created_at belongs to the first write
		delete(incoming, "created_at")
	}
	for k, v := range incoming {
		props[k] = v
	}
	s.metrics.GraphWrite("node", nil)
	return nil
}

func (s *MemoryStore) UpsertEdge(ctx context.Context, edge Edge) error {
	if !edge.FromLabel.Valid() || !edge.ToLabel.Valid() || !edge.Type.Valid() {
		return fmt.Errorf("%w: %s-[%s]->%s", ErrInvalidLabel, edge.FromLabel, edge.Type, edge.ToLabel)
	}
	if edge.FromID == "" || edge.ToID == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := nodeKey{edge.FromLabel, edge.FromID}
	to := nodeKey{edge.ToLabel, edge.ToID}
	_, fromOK := s.nodes[from]
	_, toOK := s.nodes[to]
	if !fromOK || !toOK {
		err := fmt.Errorf("%w: %s %s or %s %s", ErrNodeNotFound, edge.FromLabel, edge.FromID, edge.ToLabel, edge.ToID)
		s.metrics.GraphWrite("edge", err)
		return err
	}

	key := edgeKey{from, to, edge.Type}
	props, ok := s.edges[key]
	incoming := copyProps(edge.Properties)
	if !ok {
		props = map[string]any{}
		if _, has := incoming["created_at"]; !has {
			props["created_at"] = formatTime(time.Now())
		}
		s.edges[key] = props
		s.edgeOrder = append(s.edgeOrder, key)
	} else {
		delete(incoming, "created_at")
	}
	for k, v := range incoming {
		props[k] = v
	}
	s.metrics.GraphWrite("edge", nil)
	return nil
}

func (s *MemoryStore) FindPatterns(ctx context.Context, userID string) ([]PatternNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := nodeKey{LabelUser, userID}
	var patterns []PatternNode
	for _, key := range s.edgeOrder {
		if key.from != user || key.relType != RelHasPattern || key.to.label != LabelPattern {
			continue
		}
		if props, ok := s.nodes[key.to]; ok {
			patterns = append(patterns, patternFromProperties(props))
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].CreatedAt.Before(patterns[j].CreatedAt)
	})
	if patterns == nil {
		patterns = []PatternNode{}
	}
	return patterns, nil
}

func (s *MemoryStore) SearchKnowledge(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit < 1 {
		limit = constants.DefaultSearchLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user := nodeKey{LabelUser, userID}
	results := []SearchResult{}
	for _, key := range s.edgeOrder {
		var other nodeKey
		switch user {
		case key.from:
			other = key.to
		case key.to:
			other = key.from
		default:
			continue
		}
		props := s.nodes[other]
		if !matchesQuery(props, query) {
			continue
		}
		results = append(results, SearchResult{
			Node:         s.graphNode(other),
			Relationship: string(key.relType),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func matchesQuery(props map[string]any, query string) bool {
	for _, field := range []string{"name", "content", "description"} {
		if strings.Contains(strings.ToLower(getStringFromMap(props, field, "")), query) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UserGraph(ctx context.Context, userID string, depth int) (*Subgraph, error) {
	depth = clampDepth(depth, constants.DefaultGraphDepth, constants.MaxGraphDepth)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := &Subgraph{Nodes: []GraphNode{}, Relationships: []Relationship{}}
	user := nodeKey{LabelUser, userID}
	if _, ok := s.nodes[user]; !ok {
		return sub, nil
	}

	// Undirected breadth-first distances from the user
	dist := map[nodeKey]int{user: 0}
	frontier := []nodeKey{user}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []nodeKey
		for _, n := range frontier {
			for _, key := range s.edgeOrder {
				var other nodeKey
				switch n {
				case key.from:
					other = key.to
				case key.to:
					other = key.from
				default:
					continue
				}
				if _, seen := dist[other]; !seen {
					dist[other] = d
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	for _, key := range s.nodeOrder {
		if _, ok := dist[key]; ok {
			sub.Nodes = append(sub.Nodes, s.graphNode(key))
		}
	}
	// An edge lies on a path of length <= depth when its nearer endpoint is closer than depth
	for _, key := range s.edgeOrder {
		df, okF := dist[key.from]
		dt, okT := dist[key.to]
		if !okF || !okT || min(df, dt) >= depth {
			continue
		}
		sub.Relationships = append(sub.Relationships, Relationship{
			Source:     key.from.id,
			Target:     key.to.id,
			Type:       string(key.relType),
			Properties: copyProps(s.edges[key]),
		})
	}
	return sub, nil
}

func (s *MemoryStore) EntityConnections(ctx context.Context, entityID string) ([]EntityConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity := nodeKey{LabelEntity, entityID}
	connections := []EntityConnection{}
	for _, key := range s.edgeOrder {
		switch entity {
		case key.from:
			connections = append(connections, EntityConnection{
				Node: s.graphNode(key.to), Relationship: string(key.relType), Direction: "outgoing",
			})
		case key.to:
			connections = append(connections, EntityConnection{
				Node: s.graphNode(key.from), Relationship: string(key.relType), Direction: "incoming",
			})
		}
	}
	return connections, nil
}

func (s *MemoryStore) DeleteUserGraph(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := nodeKey{LabelUser, userID}
	if _, ok := s.nodes[user]; !ok {
		return 0, nil
	}

	doomed := map[nodeKey]bool{user: true}
	for _, key := range s.edgeOrder {
		if key.from == user && key.to.label != LabelUser {
			doomed[key.to] = true
		}
	}

	edges := s.edgeOrder[:0]
	for _, key := range s.edgeOrder {
		if doomed[key.from] || doomed[key.to] {
			delete(s.edges, key)
			continue
		}
		edges = append(edges, key)
	}
	s.edgeOrder = edges

	nodes := s.nodeOrder[:0]
	for _, key := range s.nodeOrder {
		if doomed[key] {
			delete(s.nodes, key)
			continue
		}
		nodes = append(nodes, key)
	}
	s.nodeOrder = nodes

	return len(doomed), nil
}

// Node returns a copy of a stored node's properties
func (s *MemoryStore) Node(label Label, id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.nodes[nodeKey{label, id}]
	if !ok {
		return nil, false
	}
	return copyProps(props), true
}

// Counts returns the number of stored nodes and edges
func (s *MemoryStore) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

func (s *MemoryStore) graphNode(key nodeKey) GraphNode {
	return GraphNode{
		ID:         key.id,
		Labels:     []string{string(key.label)},
		Properties: copyProps(s.nodes[key]),
	}
}
