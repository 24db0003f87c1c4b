package graphview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/cache"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/knowledge"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/internal/store"
)

func mk(id, typ, content string) state.Insight {
	return state.Insight{ID: id, UserID: "u1", Type: typ, Content: content, Evidence: "ev " + id, Confidence: 0.8}
}

func TestBuild_ZeroInsights(t *testing.T) {
	llm := adapter.NewMockProvider("[]")
	view := NewBuilder(llm, Config{}).Build(context.Background(), "u1", nil, nil)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"links":[]}`, string(data))
	assert.Equal(t, 0, llm.CallCount())
}

func TestBuild_SingleInsight(t *testing.T) {
	llm := adapter.NewMockProvider(`[{"source":"i1","target":"u1","relationship":"x"}]`)
	view := NewBuilder(llm, Config{}).Build(context.Background(), "u1", []state.Insight{mk("i1", "Belief", "Short")}, nil)

	require.Len(t, view.Nodes, 2)
	require.Len(t, view.Links, 1)
	assert.Equal(t, Node{ID: "u1", Label: "User", Type: "user", Size: 20}, view.Nodes[0])
	assert.Equal(t, Node{ID: "i1", Label: "Short", Type: "belief", Size: 10, Content: "Short", Evidence: "ev i1"}, view.Nodes[1])
	assert.Equal(t, Link{Source: "u1", Target: "i1", Label: "has_belief", Type: "belief"}, view.Links[0])
	assert.Equal(t, 0, llm.CallCount())
}

func TestBuild_TruncatesLabels(t *testing.T) {
	exactly30 := strings.Repeat("a", 30)
	long := strings.Repeat("é", 31)
	view := NewBuilder(nil, Config{}).Build(context.Background(), "u1", []state.Insight{
		mk("i1", "goal", exactly30),
		mk("i2", "", long),
	}, nil)

	assert.Equal(t, exactly30, view.Nodes[1].Label)
	assert.Equal(t, strings.Repeat("é", 30)+"...", view.Nodes[2].Label)
	assert.Equal(t, long, view.Nodes[2].Content)
	assert.Equal(t, "unknown", view.Nodes[2].Type)
	assert.Equal(t, "has_unknown", view.Links[1].Label)
}

func TestBuild_ConnectionPass(t *testing.T) {
	llm := adapter.NewMockProvider(`Connections:
[
  {"source": "i1", "target": "i2", "relationship": "reinforces each other strongly"},
  {"source": "i2", "target": "i2", "relationship": "self"},
  {"source": "i1", "target": "missing", "relationship": "dangling"},
  {"source": "u1", "target": "i1", "relationship": "root"},
  {"source": "i2", "target": "i3"}
]`)
	insights := []state.Insight{mk("i1", "value", "Honesty"), mk("i2", "belief", "Trust is earned"), mk("i3", "goal", "Be open")}

	view := NewBuilder(llm, Config{}).Build(context.Background(), "u1", insights, nil)
	require.Len(t, view.Nodes, 4)
	require.Len(t, view.Links, 5)

	conn := view.Links[3:]
	assert.Equal(t, Link{Source: "i1", Target: "i2", Label: "reinforces each othe...", Type: "connection"}, conn[0])
	assert.Equal(t, Link{Source: "i2", Target: "i3", Label: "related_to", Type: "connection"}, conn[1])
	for _, l := range view.Links {
		assert.NotEqual(t, l.Source, l.Target)
	}

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.3, calls[0].Temperature)
	assert.Contains(t, calls[0].Prompt, `"id": "i3"`)
}

func TestBuild_ConnectionFailureKeepsStarGraph(t *testing.T) {
	insights := []state.Insight{mk("i1", "value", "A"), mk("i2", "belief", "B")}
	for _, llm := range []*adapter.MockProvider{
		{Err: errors.New("down")},
		adapter.NewMockProvider("no connections found"),
		adapter.NewMockProvider(`[{"source": "i1"`),
	} {
		view := NewBuilder(llm, Config{}).Build(context.Background(), "u1", insights, nil)
		assert.Len(t, view.Nodes, 3)
		assert.Len(t, view.Links, 2)
	}
}

func TestBuild_SkipsDuplicateInsightIDs(t *testing.T) {
	llm := adapter.NewMockProvider("[]")
	view := NewBuilder(llm, Config{}).Build(context.Background(), "u1", []state.Insight{
		mk("i1", "goal", "A"), mk("i1", "goal", "A again"),
	}, nil)
	assert.Len(t, view.Nodes, 2)
	assert.Len(t, view.Links, 1)
	assert.Equal(t, 0, llm.CallCount(), "one distinct insight needs no connection pass")
}

func TestBuild_MergesKnowledgeGraph(t *testing.T) {
	insights := []state.Insight{mk("g1", "goal", "Run a marathon"), mk("t1", "trait", "Disciplined")}
	kg := &graph.Subgraph{Relationships: []graph.Relationship{
		{Source: "u1", Target: "g1", Type: "HAS_GOAL"},
		{Source: "t1", Target: "g1", Type: "SUPPORTS"},
		{Source: "t1", Target: "c9", Type: "HAS_KNOWLEDGE_OF"},
		{Source: "t1", Target: "t1", Type: "LOOP"},
	}}

	view := NewBuilder(adapter.NewMockProvider("[]"), Config{}).Build(context.Background(), "u1", insights, kg)
	require.Len(t, view.Links, 3)
	assert.Equal(t, Link{Source: "t1", Target: "g1", Label: "supports", Type: "knowledge"}, view.Links[2])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("", 5))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab...", Truncate("abc", 2))
}

func TestService_InsightGraph(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	kg := graph.NewMemoryStore(nil)
	require.NoError(t, kg.EnsureUser(ctx, "u1"))

	none, err := NewService(rows, kg, NewBuilder(nil, Config{}), nil, time.Minute).InsightGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, none.Nodes)

	in := &state.Insight{UserID: "u1", Type: "goal", Content: "Run", Confidence: 0.8}
	require.NoError(t, rows.CreateInsight(ctx, in))
	goal := graph.GoalNode{NodeBase: graph.NodeBase{ID: in.ID}, Statement: graph.Statement{Content: "Run"}}
	require.NoError(t, kg.UpsertNode(ctx, goal))
	require.NoError(t, kg.UpsertEdge(ctx, graph.UserEdge("u1", goal, graph.RelHasGoal, time.Now())))

	view, err := NewService(rows, kg, NewBuilder(nil, Config{}), nil, time.Minute).InsightGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, view.Nodes, 2)
	assert.Len(t, view.Links, 1)
}

// memoryCache is a map-backed cache.Cache
type memoryCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dst any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.values[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, dst)
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = raw
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

func countLinks(view *View, typ string) int {
	n := 0
	for _, l := range view.Links {
		if l.Type == typ {
			n++
		}
	}
	return n
}

func TestService_FailedConnectionPassIsNotCached(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	first := &state.Insight{UserID: "u1", Type: "value", Content: "Honesty", Confidence: 0.8}
	second := &state.Insight{UserID: "u1", Type: "belief", Content: "Trust is earned", Confidence: 0.8}
	require.NoError(t, rows.CreateInsight(ctx, first))
	require.NoError(t, rows.CreateInsight(ctx, second))

	var mu sync.Mutex
	attempts := 0
	llm := &adapter.MockProvider{Respond: func(call adapter.MockCall) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return "", errors.New("model unavailable")
		}
		return fmt.Sprintf(`[{"source": %q, "target": %q, "relationship": "supports"}]`, first.ID, second.ID), nil
	}}
	svc := NewService(rows, nil, NewBuilder(llm, Config{}), newMemoryCache(), time.Minute)

	degraded, err := svc.InsightGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, degraded.Links, 2)
	assert.Zero(t, countLinks(degraded, "connection"))

	healthy, err := svc.InsightGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, countLinks(healthy, "connection"))
	assert.Equal(t, 2, llm.CallCount())

	cached, err := svc.InsightGraph(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, healthy, cached)
	assert.Equal(t, 2, llm.CallCount(), "complete view is served from the cache")
}

func TestService_InsightGraphShowsExtractedKnowledge(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	kg := graph.NewMemoryStore(nil)

	in := &state.Insight{UserID: "u1", Type: "goal", Content: "Run a marathon", Confidence: 0.8}
	require.NoError(t, rows.CreateInsight(ctx, in))
	goal := graph.GoalNode{NodeBase: graph.NodeBase{ID: in.ID}, Statement: graph.Statement{Content: "Run a marathon"}}
	require.NoError(t, kg.EnsureUser(ctx, "u1"))
	require.NoError(t, kg.UpsertNode(ctx, goal))
	require.NoError(t, kg.UpsertEdge(ctx, graph.UserEdge("u1", goal, graph.RelHasGoal, time.Now())))

	counts := knowledge.NewWriter(kg).Write(ctx, "u1", knowledge.Candidates{
		Entities: []knowledge.Entity{{ID: "e1", Type: "Place", Name: "Berlin", Info: "Home city"}},
		Patterns: []knowledge.Pattern{{ID: "p1", Name: "Late starts", Description: "Delays training", Confidence: 0.6}},
	})
	require.Zero(t, counts.Failures)

	view, err := NewService(rows, kg, NewBuilder(nil, Config{}), nil, time.Minute).InsightGraph(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, view.Nodes, 4)
	byType := map[string]Node{}
	for _, n := range view.Nodes {
		byType[n.Type] = n
	}
	assert.Equal(t, "Berlin", byType["entity"].Label)
	assert.Equal(t, "Home city", byType["entity"].Content)
	assert.Equal(t, 6, byType["entity"].Size)
	assert.Equal(t, "Late starts", byType["pattern"].Label)

	assert.Equal(t, 2, countLinks(view, "knowledge"))
	assert.Contains(t, view.Links, Link{Source: "u1", Target: byType["entity"].ID, Label: "knows_about", Type: "knowledge"})
	assert.Contains(t, view.Links, Link{Source: "u1", Target: byType["pattern"].ID, Label: "has_pattern", Type: "knowledge"})
	assert.Equal(t, 1, countLinks(view, "goal"), "mirrored goal edge is not duplicated")
}
