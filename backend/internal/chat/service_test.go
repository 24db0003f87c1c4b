package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepintrospect/backend/internal/adapter"
	"deepintrospect/backend/internal/graphview"
	"deepintrospect/backend/internal/pipeline"
	"deepintrospect/backend/internal/state"
	"deepintrospect/backend/internal/store"
	"deepintrospect/backend/internal/summary"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	jobs   []pipeline.Job
	accept bool
}

func (r *recordingSubmitter) Submit(job pipeline.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.accept
}

func newTestService(llm adapter.Provider, sub Submitter) (*Service, *store.MemoryStore) {
	rows := store.NewMemoryStore()
	s := NewService(rows, llm, sub, rows, nil, nil, Config{})
	s.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }
	return s, rows
}

func TestStartConversation_DefaultTitleAndWelcome(t *testing.T) {
	ctx := context.Background()
	s, rows := newTestService(adapter.NewMockProvider(""), nil)

	started, err := s.StartConversation(ctx, "u1", "  ")
	require.NoError(t, err)
	assert.Equal(t, "Conversation 2024-03-09 14:05", started.Conversation.Title)
	assert.Equal(t, "u1", started.Conversation.UserID)

	msgs, err := rows.GetMessages(ctx, started.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, state.RoleAssistant, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "DeepIntrospect AI")

	named, err := s.StartConversation(ctx, "u1", "Work stress")
	require.NoError(t, err)
	assert.Equal(t, "Work stress", named.Conversation.Title)
}

func TestSendMessage_PersistsAndSubmits(t *testing.T) {
	ctx := context.Background()
	llm := adapter.NewMockProvider("Tell me more.")
	sub := &recordingSubmitter{accept: true}
	s, rows := newTestService(llm, sub)

	started, err := s.StartConversation(ctx, "u1", "")
	require.NoError(t, err)

	reply, err := s.SendMessage(ctx, started.Conversation.ID, "I keep putting things off")
	require.NoError(t, err)
	assert.Equal(t, "Tell me more.", reply.Content)
	assert.Equal(t, state.RoleAssistant, reply.Role)

	msgs, err := rows.GetMessages(ctx, started.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, state.RoleUser, msgs[1].Role)
	assert.Equal(t, "Tell me more.", msgs[2].Content)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.7, calls[0].Temperature)
	require.Len(t, calls[0].Messages, 3)
	assert.Equal(t, adapter.RoleSystem, calls[0].Messages[0].Role)
	assert.Equal(t, "I keep putting things off", calls[0].Messages[2].Content)

	require.Len(t, sub.jobs, 1)
	assert.Equal(t, pipeline.Job{UserID: "u1", ConversationID: started.Conversation.ID, TurnID: reply.ID}, sub.jobs[0])
}

func TestSendMessage_ContextIsLastTwentyMessages(t *testing.T) {
	ctx := context.Background()
	llm := adapter.NewMockProvider("ok")
	s, _ := newTestService(llm, nil)

	started, err := s.StartConversation(ctx, "u1", "")
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		_, err := s.SendMessage(ctx, started.Conversation.ID, "again")
		require.NoError(t, err)
	}

	calls := llm.Calls()
	last := calls[len(calls)-1]
	assert.Len(t, last.Messages, 21)
}

func TestSendMessage_DroppedJobDoesNotFailTurn(t *testing.T) {
	ctx := context.Background()
	sub := &recordingSubmitter{accept: false}
	s, _ := newTestService(adapter.NewMockProvider("ok"), sub)

	started, err := s.StartConversation(ctx, "u1", "")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, started.Conversation.ID, "hello")
	assert.NoError(t, err)
	assert.Len(t, sub.jobs, 1)
}

func TestSendMessage_Errors(t *testing.T) {
	ctx := context.Background()
	s, rows := newTestService(&adapter.MockProvider{Err: errors.New("upstream down")}, nil)

	_, err := s.SendMessage(ctx, "missing", "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)

	started, err := s.StartConversation(ctx, "u1", "")
	require.NoError(t, err)
	_, err = s.SendMessage(ctx, started.Conversation.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.SendMessage(ctx, started.Conversation.ID, "hi")
	require.Error(t, err)

	// the user message is kept even when the reply fails
	msgs, err := rows.GetMessages(ctx, started.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestStreamMessage(t *testing.T) {
	ctx := context.Background()
	llm := &adapter.MockProvider{StreamChunks: []string{"Hel", "lo"}}
	sub := &recordingSubmitter{accept: true}
	s, rows := newTestService(llm, sub)

	started, err := s.StartConversation(ctx, "u1", "")
	require.NoError(t, err)

	var got []string
	reply, err := s.StreamMessage(ctx, started.Conversation.ID, "hi", func(c string) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", reply.Content)
	assert.Len(t, sub.jobs, 1)

	msgs, err := rows.GetMessages(ctx, started.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msgs[len(msgs)-1].Content)
}

func TestStreamMessage_ClientGone(t *testing.T) {
	ctx := context.Background()
	llm := &adapter.MockProvider{StreamChunks: []string{"a", "b"}}
	sub := &recordingSubmitter{accept: true}
	s, _ := newTestService(llm, sub)

	started, err := s.StartConversation(ctx, "u1", "")
	require.NoError(t, err)
	_, err = s.StreamMessage(ctx, started.Conversation.ID, "hi", func(string) error { return errors.New("closed") })
	require.Error(t, err)
	assert.Empty(t, sub.jobs)
}

func TestSummarizeConversation(t *testing.T) {
	ctx := context.Background()
	llm := adapter.NewMockProvider("  They talked about procrastination.  ")
	s, rows := newTestService(llm, nil)

	conv := &state.Conversation{UserID: "u1"}
	require.NoError(t, rows.CreateConversation(ctx, conv))
	text, err := s.SummarizeConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, NoMessagesSummary, text)
	assert.Equal(t, 0, llm.CallCount())

	require.NoError(t, rows.AddMessage(ctx, &state.Message{ConversationID: conv.ID, Role: state.RoleUser, Content: "I procrastinate"}))
	text, err = s.SummarizeConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "They talked about procrastination.", text)
	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "User: I procrastinate")
	assert.Equal(t, 0.3, calls[0].Temperature)
}

type fixedSummaries struct{ got int }

func (f *fixedSummaries) Summarize(ctx context.Context, userID string, list []state.Insight) summary.UserSummary {
	f.got = len(list)
	return summary.UserSummary{Summary: "steady", Categories: map[string]summary.Section{}}
}

type failingViews struct{}

func (failingViews) InsightGraph(ctx context.Context, userID string) (*graphview.View, error) {
	return nil, errors.New("graph down")
}

func TestUserInsights(t *testing.T) {
	ctx := context.Background()
	rows := store.NewMemoryStore()
	require.NoError(t, rows.CreateInsight(ctx, &state.Insight{UserID: "u1", Type: "goal", Content: "Run", Confidence: 0.8}))
	sums := &fixedSummaries{}
	s := NewService(rows, adapter.NewMockProvider(""), nil, rows, sums, failingViews{}, Config{})

	out, err := s.UserInsights(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, out.Insights, 1)
	assert.Equal(t, 1, sums.got)
	assert.Equal(t, "steady", out.Summary.Summary)
	assert.Empty(t, out.Graph.Nodes)
	assert.NotNil(t, out.Graph.Links)
}
