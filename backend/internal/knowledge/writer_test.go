package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/graph"
)

// flakyStore fails writes for selected labels
type flakyStore struct {
	*graph.MemoryStore
	failNodes map[graph.Label]bool
	failEdges map[graph.RelType]bool
	failUser  bool
}

func (f *flakyStore) EnsureUser(ctx context.Context, userID string) error {
	if f.failUser {
		return errors.New("graph unavailable")
	}
	return f.MemoryStore.EnsureUser(ctx, userID)
}

func (f *flakyStore) UpsertNode(ctx context.Context, node graph.Node) error {
	if f.failNodes[node.NodeLabel()] {
		return errors.New("write failed")
	}
	return f.MemoryStore.UpsertNode(ctx, node)
}

func (f *flakyStore) UpsertEdge(ctx context.Context, edge graph.Edge) error {
	if f.failEdges[edge.Type] {
		return errors.New("write failed")
	}
	return f.MemoryStore.UpsertEdge(ctx, edge)
}

func sampleCandidates() Candidates {
	return Candidates{
		Entities: []Entity{{ID: "e1", Type: "person", Name: "Maya"}},
		Concepts: []Concept{{ID: "c1", Name: "Belonging"}},
		BeliefsValues: []BeliefValue{
			{ID: "b1", Type: "belief", Content: "People can change"},
			{ID: "v1", Type: "VALUE", Content: "Honesty"},
			{ID: "x1", Type: "opinion", Content: "Mornings are best"},
			{ID: "x2", Content: "No type given"},
		},
		Patterns: []Pattern{{ID: "p1", Name: "Avoidance", Confidence: 0.6}},
	}
}

func TestWriter_WritesEveryCategory(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(nil)

	counts := NewWriter(store).Write(ctx, "u1", sampleCandidates())
	assert.Equal(t, WriteCounts{Entities: 1, Concepts: 1, BeliefsValues: 4, Patterns: 1, Relationships: 7}, counts)

	_, ok := store.Node(graph.LabelUser, "u1")
	assert.True(t, ok)
	props, ok := store.Node(graph.LabelEntity, "e1")
	require.True(t, ok)
	assert.Equal(t, "person", props["entity_type"])
	_, ok = store.Node(graph.LabelValue, "v1")
	assert.True(t, ok)
}

func TestWriter_UnrecognisedTypesFallBackToBelief(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(nil)
	NewWriter(store).Write(ctx, "u1", sampleCandidates())

	for _, id := range []string{"b1", "x1", "x2"} {
		_, ok := store.Node(graph.LabelBelief, id)
		assert.True(t, ok, id)
		_, ok = store.Node(graph.LabelValue, id)
		assert.False(t, ok, id)
	}
}

func TestWriter_PartialFailureKeepsGoing(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{
		MemoryStore: graph.NewMemoryStore(nil),
		failNodes:   map[graph.Label]bool{graph.LabelConcept: true},
		failEdges:   map[graph.RelType]bool{graph.RelHasPattern: true},
	}

	counts := NewWriter(store).Write(ctx, "u1", sampleCandidates())
	assert.Equal(t, 0, counts.Concepts)
	assert.Equal(t, 1, counts.Entities)
	assert.Equal(t, 4, counts.BeliefsValues)
	assert.Equal(t, 1, counts.Patterns)
	assert.Equal(t, 5, counts.Relationships)
	assert.Equal(t, 2, counts.Failures)
}

func TestWriter_UserFailureStopsBatch(t *testing.T) {
	store := &flakyStore{MemoryStore: graph.NewMemoryStore(nil), failUser: true}
	counts := NewWriter(store).Write(context.Background(), "u1", sampleCandidates())
	assert.Equal(t, WriteCounts{Failures: 1}, counts)

	nodes, _ := store.Counts()
	assert.Equal(t, 0, nodes)
}

func TestWriter_RepeatedWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(nil)
	w := NewWriter(store)

	w.Write(ctx, "u1", sampleCandidates())
	w.Write(ctx, "u1", sampleCandidates())

	nodes, edges := store.Counts()
	assert.Equal(t, 8, nodes)
	assert.Equal(t, 7, edges)
}

func TestService_ProcessConversation(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore(nil)
	llm := routedProvider(map[string]string{
		"abstract concepts": `[{"name":"Resilience","description":"Bouncing back"}]`,
	})
	svc := NewService(llm, store, ExtractorConfig{})

	result := svc.ProcessConversation(ctx, "u1", "c1", window(6))
	assert.Equal(t, 1, result.Counts.Concepts)
	assert.Equal(t, 1, result.Counts.Relationships)

	found, err := svc.SearchKnowledge(ctx, "u1", "resil")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, string(graph.RelHasKnowledgeOf), found[0].Relationship)

	sub, err := svc.UserGraph(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 2)
}

var _ adapter.Provider = (*blockingProvider)(nil)
