package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepintrospect/backend/internal/state"
)

func newConversation(t *testing.T, s Store, userID string) *state.Conversation {
	t.Helper()
	c := &state.Conversation{UserID: userID, Title: "Evening reflection"}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

func TestMemoryStore_ConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	c := newConversation(t, s, "u1")
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Evening reflection", got.Title)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_AddMessageBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newConversation(t, s, "u1")

	later := c.CreatedAt.Add(time.Minute)
	require.NoError(t, s.AddMessage(ctx, &state.Message{
		ConversationID: c.ID, Role: state.RoleUser, Content: "hi", CreatedAt: later,
	}))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(later))
}

func TestMemoryStore_AddMessageRejectsUnknownConversationAndRole(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newConversation(t, s, "u1")

	err := s.AddMessage(ctx, &state.Message{ConversationID: "nope", Role: state.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.AddMessage(ctx, &state.Message{ConversationID: c.ID, Role: "system", Content: "x"})
	var invalid state.ErrInvalidRecord
	assert.True(t, errors.As(err, &invalid))
}

func TestMemoryStore_RecentMessagesKeepsChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newConversation(t, s, "u1")

	for _, content := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.AddMessage(ctx, &state.Message{ConversationID: c.ID, Role: state.RoleUser, Content: content}))
	}

	recent, err := s.RecentMessages(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Content)
	assert.Equal(t, "four", recent[1].Content)

	all, err := s.GetMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "one", all[0].Content)
}

func TestMemoryStore_ListInsightsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newConversation(t, s, "u1")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for n, typ := range []string{"Belief", "pattern", "pattern"} {
		require.NoError(t, s.CreateInsight(ctx, &state.Insight{
			UserID: "u1", ConversationID: c.ID, Type: typ, Content: typ, Confidence: 0.8,
			CreatedAt: base.Add(time.Duration(n) * time.Hour),
		}))
	}
	require.NoError(t, s.CreateInsight(ctx, &state.Insight{UserID: "u2", Type: "goal", Content: "x", Confidence: 0.5}))

	all, err := s.ListInsights(ctx, "u1", state.InsightFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))
	assert.Equal(t, "belief", all[2].Type)

	patterns, err := s.ListInsights(ctx, "u1", state.InsightFilter{Type: "PATTERN", Limit: 1})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.True(t, patterns[0].CreatedAt.Equal(base.Add(2*time.Hour)))

	byConversation, err := s.ListInsightsByConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, byConversation, 3)
}

func TestMemoryStore_CreateInsightValidates(t *testing.T) {
	s := NewMemoryStore()
	err := s.CreateInsight(context.Background(), &state.Insight{UserID: "u1", Type: "belief", Content: "x", Confidence: 1.5})
	assert.Error(t, err)

	err = s.CreateInsight(context.Background(), &state.Insight{UserID: "u1", Type: "belief", Confidence: 0.5})
	assert.Error(t, err)
}

func TestMemoryStore_DeleteUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := newConversation(t, s, "u1")
	other := newConversation(t, s, "u2")

	require.NoError(t, s.AddMessage(ctx, &state.Message{ConversationID: c.ID, Role: state.RoleUser, Content: "a"}))
	require.NoError(t, s.AddMessage(ctx, &state.Message{ConversationID: c.ID, Role: state.RoleAssistant, Content: "b"}))
	require.NoError(t, s.CreateInsight(ctx, &state.Insight{UserID: "u1", Type: "belief", Content: "x", Confidence: 0.8}))

	counts, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, DeleteCounts{Conversations: 1, Messages: 2, Insights: 1}, counts)

	_, err = s.GetConversation(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetConversation(ctx, other.ID)
	assert.NoError(t, err)
}
