package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deepintrospect/backend/internal/state"
)

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("not found")

// Schema creates the row-store tables; every statement is idempotent
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id               UUID PRIMARY KEY,
	conversation_id  UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role             TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content          TEXT NOT NULL,
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS insights (
	id               UUID PRIMARY KEY,
	user_id          TEXT NOT NULL,
	conversation_id  UUID REFERENCES conversations(id) ON DELETE SET NULL,
	type             TEXT NOT NULL,
	content          TEXT NOT NULL,
	evidence         TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0.8 CHECK (confidence >= 0 AND confidence <= 1),
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS insights_user_idx ON insights (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS insights_conversation_idx ON insights (conversation_id);
`

// PostgresStore persists conversations, messages and insights in Postgres
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool and pings it
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies Schema
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ============================================================================
// Conversations and messages
// ============================================================================

func (s *PostgresStore) CreateConversation(ctx context.Context, c *state.Conversation) error {
	prepareConversation(c)
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*state.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	c := &state.Conversation{}
	err := s.db.QueryRow(ctx,
		`SELECT id::text, user_id, title, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// AddMessage stores a message and bumps the conversation's updated_at in one transaction
func (s *PostgresStore) AddMessage(ctx context.Context, m *state.Message) error {
	prepareMessage(m)
	if err := m.Validate(); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE conversations SET updated_at = $2 WHERE id = $1`, m.ConversationID, m.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.ConversationID, m.Role, m.Content, m.Metadata, m.CreatedAt,
		)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// GetMessages returns every message of a conversation, oldest first
func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string) ([]state.Message, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return []state.Message{}, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id::text, conversation_id::text, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a conversation, oldest first
func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]state.Message, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return []state.Message{}, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at FROM (
			SELECT id::text, conversation_id::text, role, content, metadata, created_at
			FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		 ) recent ORDER BY created_at ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]state.Message, error) {
	defer rows.Close()
	messages := []state.Message{}
	for rows.Next() {
		var m state.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ============================================================================
// Insights
// ============================================================================

// CreateInsight appends an insight
func (s *PostgresStore) CreateInsight(ctx context.Context, i *state.Insight) error {
	prepareInsight(i)
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO insights (id, user_id, conversation_id, type, content, evidence, confidence, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		i.ID, i.UserID, nullableUUID(i.ConversationID), i.Type, i.Content, i.Evidence, i.Confidence, i.Metadata, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create insight: %w", err)
	}
	return nil
}

// ListInsights returns the user's insights matching filter, newest first
func (s *PostgresStore) ListInsights(ctx context.Context, userID string, filter state.InsightFilter) ([]state.Insight, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id::text, user_id, conversation_id::text, type, content, evidence, confidence, metadata, created_at
		FROM insights WHERE user_id = $1`)
	args := []any{userID}

	if filter.Type != "" {
		args = append(args, state.NormalizeInsightType(filter.Type))
		fmt.Fprintf(&sb, " AND type = $%d", len(args))
	}
	if filter.ConversationID != "" {
		if _, err := uuid.Parse(filter.ConversationID); err != nil {
			return []state.Insight{}, nil
		}
		args = append(args, filter.ConversationID)
		fmt.Fprintf(&sb, " AND conversation_id = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC, id ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	return scanInsights(rows)
}

// ListInsightsByConversation returns a conversation's insights, newest first
func (s *PostgresStore) ListInsightsByConversation(ctx context.Context, conversationID string) ([]state.Insight, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return []state.Insight{}, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id::text, user_id, conversation_id::text, type, content, evidence, confidence, metadata, created_at
		 FROM insights WHERE conversation_id = $1 ORDER BY created_at DESC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation insights: %w", err)
	}
	return scanInsights(rows)
}

func scanInsights(rows pgx.Rows) ([]state.Insight, error) {
	defer rows.Close()
	insights := []state.Insight{}
	for rows.Next() {
		var i state.Insight
		var conversationID *string
		if err := rows.Scan(&i.ID, &i.UserID, &conversationID, &i.Type, &i.Content, &i.Evidence,
			&i.Confidence, &i.Metadata, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if conversationID != nil {
			i.ConversationID = *conversationID
		}
		insights = append(insights, i)
	}
	return insights, rows.Err()
}

// ============================================================================
// Deletion
// ============================================================================

// DeleteUser removes the user's insights, conversations and messages
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (DeleteCounts, error) {
	var counts DeleteCounts
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM insights WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		counts.Insights = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx,
			`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE user_id = $1)`, userID)
		if err != nil {
			return err
		}
		counts.Messages = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		counts.Conversations = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return DeleteCounts{}, fmt.Errorf("failed to delete user: %w", err)
	}
	return counts, nil
}

func nullableUUID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// DeleteCounts reports what DeleteUser removed
type DeleteCounts struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Insights      int `json:"insights"`
}

func prepareConversation(c *state.Conversation) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
}

func prepareMessage(m *state.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
}

func prepareInsight(i *state.Insight) {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.Metadata == nil {
		i.Metadata = map[string]any{}
	}
	i.Type = state.NormalizeInsightType(i.Type)
}
