package insights

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/graph"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/internal/store"
	apperrors "deepintrospect/backend/pkg/errors"
)

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) CreateInsight(ctx context.Context, i *state.Insight) error {
	return errors.New("connection refused")
}

func conversation() []state.Message {
	return []state.Message{
		{Role: state.RoleUser, Content: "I always start projects and never finish them"},
		{Role: state.RoleAssistant, Content: "What usually stops you?"},
		{Role: state.RoleUser, Content: "I want to run a marathon this year"},
	}
}

func TestRecordInsight_DefaultsConfidence(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, Config{})

	in, err := svc.RecordInsight(context.Background(), RecordParams{UserID: "u1", Type: "Belief", Content: "Effort matters"})
	require.NoError(t, err)
	assert.Equal(t, 0.8, in.Confidence)
	assert.Equal(t, "belief", in.Type)
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, "UTC", in.CreatedAt.Location().String())

	zero := 0.0
	in, err = svc.RecordInsight(context.Background(), RecordParams{UserID: "u1", Type: "goal", Content: "x", Confidence: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0.0, in.Confidence)
}

func TestRecordInsight_IsAppendOnly(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemoryStore(), nil, nil, Config{})

	for i := 0; i < 2; i++ {
		_, err := svc.RecordInsight(ctx, RecordParams{UserID: "u1", Type: "belief", Content: "Same claim"})
		require.NoError(t, err)
	}
	list, err := svc.ListInsights(ctx, "u1", state.InsightFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRecordInsight_RejectsInvalid(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, Config{})
	high := 1.2
	_, err := svc.RecordInsight(context.Background(), RecordParams{UserID: "u1", Type: "belief", Content: "x", Confidence: &high})
	var invalid state.ErrInvalidRecord
	assert.ErrorAs(t, err, &invalid)
}

func TestRecordInsight_StoreFailureIsTyped(t *testing.T) {
	svc := NewService(failingStore{store.NewMemoryStore()}, nil, nil, Config{})
	_, err := svc.RecordInsight(context.Background(), RecordParams{UserID: "u1", Type: "belief", Content: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeStore))
}

func TestGenerateConversationInsights_RecordsAndMirrors(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	kg := graph.NewMemoryStore(nil)
	llm := adapter.NewMockProvider(`Sure! Here are the insights:
[
  {"type": "pattern", "content": "Starts projects without finishing", "evidence": "I always start projects and never finish them"},
  {"type": "Goal", "content": "Run a marathon", "evidence": "I want to run a marathon this year"},
  {"type": "trait", "content": "", "evidence": "skipped"}
]`)
	svc := NewService(rows, kg, llm, Config{})

	got := svc.GenerateConversationInsights(ctx, "u1", "c1", conversation())
	require.Len(t, got, 2)
	assert.Equal(t, "pattern", got[0].Type)
	assert.Equal(t, "goal", got[1].Type)
	assert.Equal(t, "c1", got[1].ConversationID)
	assert.Equal(t, 0.8, got[1].Confidence)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.3, calls[0].Temperature)
	assert.Contains(t, calls[0].Prompt, "User: I want to run a marathon this year")

	props, ok := kg.Node(graph.LabelGoal, got[1].ID)
	require.True(t, ok)
	assert.Equal(t, "Run a marathon", props["content"])
	_, ok = kg.Node(graph.LabelPattern, got[0].ID)
	assert.False(t, ok)

	sub, err := kg.UserGraph(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, sub.Relationships, 1)
	assert.Equal(t, string(graph.RelHasGoal), sub.Relationships[0].Type)
}

func TestGenerateConversationInsights_Degrades(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		llm  *adapter.MockProvider
	}{
		{"llm error", &adapter.MockProvider{Err: errors.New("timeout")}},
		{"no json", adapter.NewMockProvider("I could not find anything notable.")},
		{"broken json", adapter.NewMockProvider(`[{"type": "belief", "content": `)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(store.NewMemoryStore(), nil, tt.llm, Config{})
			got := svc.GenerateConversationInsights(ctx, "u1", "c1", conversation())
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestGenerateConversationInsights_EmptyWindowMakesNoCall(t *testing.T) {
	llm := adapter.NewMockProvider("[]")
	svc := NewService(store.NewMemoryStore(), nil, llm, Config{})
	assert.Empty(t, svc.GenerateConversationInsights(context.Background(), "u1", "c1", nil))
	assert.Equal(t, 0, llm.CallCount())
}

func TestService_AnalyzeAndCategories(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemoryStore(), nil, nil, Config{})
	for _, typ := range []string{"pattern", "pattern", "pattern", "belief"} {
		_, err := svc.RecordInsight(ctx, RecordParams{UserID: "u1", Type: typ, Content: typ})
		require.NoError(t, err)
	}

	cats, err := svc.Categories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "pattern", cats[0].Category)

	a, err := svc.Analyze(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, a.TotalCount)
	assert.Equal(t, "pattern", a.TrendAnalysis.MostCommonCategory)
	assert.Len(t, a.TopPatterns, 3)
}
