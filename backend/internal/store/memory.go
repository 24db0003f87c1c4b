package store

import (
	"context"
	"sort"
	"sync"

	"deepintrospect/backend/internal/state"
)

// Store is the row store for conversations, messages and insights
type Store interface {
	EnsureSchema(ctx context.Context) error
	CreateConversation(ctx context.Context, c *state.Conversation) error
	GetConversation(ctx context.Context, id string) (*state.Conversation, error)
	AddMessage(ctx context.Context, m *state.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]state.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]state.Message, error)
	CreateInsight(ctx context.Context, i *state.Insight) error
	ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error)
	ListInsightsByConversation(ctx context.Context, conversationID string) ([]state.Insight, error)
	DeleteUser(ctx context.Context, userID string) (DeleteCounts, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// MemoryStore keeps rows in process memory
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]state.Conversation
	messages      map[string][]state.Message
	insights      []state.Insight
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]state.Conversation),
		messages:      make(map[string][]state.Message),
	}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, c *state.Conversation) error {
	prepareConversation(c)
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*state.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, m *state.Message) error {
	prepareMessage(m)
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = m.CreatedAt
	s.conversations[c.ID] = c
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, conversationID string) ([]state.Message, error) {
	return s.RecentMessages(ctx, conversationID, 0)
}

func (s *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]state.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]state.Message, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryStore) CreateInsight(ctx context.Context, i *state.Insight) error {
	prepareInsight(i)
	if err := i.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, *i)
	return nil
}

func (s *MemoryStore) ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error) {
	typ := ""
	if filter.Type != "" {
		typ = state.NormalizeInsightType(filter.Type)
	}
	out := s.selectInsights(func(i state.Insight) bool {
		return i.UserID == userID &&
			(typ == "" || i.Type == typ) &&
			(filter.ConversationID == "" || i.ConversationID == filter.ConversationID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListInsightsByConversation(ctx context.Context, conversationID string) ([]state.Insight, error) {
	return s.selectInsights(func(i state.Insight) bool {
		return i.ConversationID == conversationID
	}), nil
}

// selectInsights returns matching insights newest first
func (s *MemoryStore) selectInsights(keep func(state.Insight) bool) []state.Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []state.Insight{}
	for i := len(s.insights) - 1; i >= 0; i-- {
		if keep(s.insights[i]) {
			out = append(out, s.insights[i])
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

func (s *MemoryStore) DeleteUser(ctx context.Context, userID string) (DeleteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts DeleteCounts
	kept := s.insights[:0]
	for _, i := range s.insights {
		if i.UserID == userID {
			counts.Insights++
			continue
		}
		kept = append(kept, i)
	}
	s.insights = kept

	for id, c := range s.conversations {
		if c.UserID != userID {
			continue
		}
		counts.Conversations++
		counts.Messages += len(s.messages[id])
		delete(s.messages, id)
		delete(s.conversations, id)
	}
	return counts, nil
}
