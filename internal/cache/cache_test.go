package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourapp-admin/internal/docstore"
	"tourapp-admin/internal/realtime"
)

func event(collection string, kind docstore.ChangeKind, id string, entity map[string]interface{}) realtime.Event {
	return realtime.Event{Collection: collection, Kind: kind, ID: id, Entity: entity}
}

// exerciseCache runs the shared behaviour checks against any Cache
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	joined := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, c.Apply(ctx, event("users", docstore.ChangeAdded, "u2", map[string]interface{}{"name": "Bea"})))
	require.NoError(t, c.Apply(ctx, event("users", docstore.ChangeAdded, "u1", map[string]interface{}{"name": "Ana", "joined": joined})))
	require.NoError(t, c.Apply(ctx, event("trips", docstore.ChangeAdded, "t1", map[string]interface{}{"status": "active"})))

	count, err := c.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got["name"])
	assert.True(t, joined.Equal(got["joined"].(time.Time)))

	require.NoError(t, c.Apply(ctx, event("users", docstore.ChangeModified, "u1", map[string]interface{}{"name": "Ana Cruz"})))
	got, err = c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Cruz", got["name"])
	assert.NotContains(t, got, "joined", "modified replaces the whole body")

	docs, err := c.List(ctx, "users")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "u1", docs[0].ID)
	assert.Equal(t, "u2", docs[1].ID)

	require.NoError(t, c.Apply(ctx, event("users", docstore.ChangeRemoved, "u2", map[string]interface{}{"name": "Bea"})))
	_, err = c.Get(ctx, "users", "u2")
	assert.ErrorIs(t, err, ErrMiss)

	// removing twice is harmless
	require.NoError(t, c.Apply(ctx, event("users", docstore.ChangeRemoved, "u2", nil)))

	stats, err := c.Stats(ctx, "users", "trips", "messages")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"users": 1, "trips": 1, "messages": 0}, stats)

	assert.Error(t, c.Apply(ctx, event("users", "renamed", "u1", nil)))
	assert.Error(t, c.Apply(ctx, event("", docstore.ChangeAdded, "u1", nil)))

	require.NoError(t, c.Clear(ctx, "users"))
	count, err = c.Count(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	exerciseCache(t, c)
}

func TestMemoryCache_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Apply(ctx, event("users", docstore.ChangeAdded, "u1", map[string]interface{}{"name": "Ana"})))

	got, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	got["name"] = "changed"

	again, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", again["name"])
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TOURAPP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TOURAPP_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "tourapp:test:" + time.Now().Format("150405.000000") + ":"
	c, err := NewRedisCache(ctx, RedisConfig{Addr: addr, KeyPrefix: prefix})
	require.NoError(t, err)
	defer func() {
		for _, collection := range []string{"users", "trips"} {
			c.Clear(ctx, collection)
		}
		c.Close()
	}()

	exerciseCache(t, c)
}

func TestNewRedisCache_RequiresAddress(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestRedisCache_KeyPrefix(t *testing.T) {
	c := NewRedisCacheWithClient(nil, "")
	assert.Equal(t, "tourapp:cache:users", c.key("users"))

	c = NewRedisCacheWithClient(nil, "school1:")
	assert.Equal(t, "school1:trips", c.key("trips"))
}

func TestFollow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs := docstore.NewMemoryStore()
	require.NoError(t, docs.Set(ctx, "users", "u1", map[string]interface{}{"name": "Ana"}, false))
	require.NoError(t, docs.Set(ctx, "users", "u2", map[string]interface{}{"name": "Bea"}, false))

	registry := realtime.NewRegistry(docs, nil)
	defer registry.StopAll()

	c := NewMemoryCache()
	unsubscribe := Follow(registry, c, nil)
	defer unsubscribe()

	require.NoError(t, registry.Start(ctx, "users"))

	countIs := func(n int) func() bool {
		return func() bool {
			got, _ := c.Count(ctx, "users")
			return got == n
		}
	}
	require.Eventually(t, countIs(2), time.Second, 5*time.Millisecond)

	require.NoError(t, docs.Delete(ctx, "users", "u2"))
	require.Eventually(t, countIs(1), time.Second, 5*time.Millisecond)

	unsubscribe()
	require.NoError(t, docs.Set(ctx, "users", "u3", map[string]interface{}{"name": "Cy"}, false))
	time.Sleep(50 * time.Millisecond)
	count, err := c.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
