package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))
	var got map[string]int
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not a url", "x:")
	assert.Error(t, err)
}

// Requires REDIS_URL
func TestRedisCache_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx := context.Background()
	c, err := NewRedisCache(ctx, url, "test:"+uuid.NewString()+":")
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	type payload struct {
		Summary string `json:"summary"`
	}
	var got payload
	assert.ErrorIs(t, c.Get(ctx, "summary", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "summary", payload{Summary: "hello"}, time.Minute))
	require.NoError(t, c.Get(ctx, "summary", &got))
	assert.Equal(t, "hello", got.Summary)

	require.NoError(t, c.Delete(ctx, "summary"))
	assert.ErrorIs(t, c.Get(ctx, "summary", &got), ErrMiss)
}
