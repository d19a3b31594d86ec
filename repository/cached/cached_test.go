package cached

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/repository"
	"github.com/workglow-dev/workglow/repository/memory"
)

func TestStore_PutWritesThroughToBoth(t *testing.T) {
	cache := memory.New()
	durable := memory.New()
	s := New(cache, durable)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", map[string]any{"name": "alice"}))

	cachedRow, found, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", cachedRow["name"])

	durableRow, found, err := durable.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", durableRow["name"])
}

func TestStore_GetPopulatesCacheOnMiss(t *testing.T) {
	cache := memory.New()
	durable := memory.New()
	s := New(cache, durable)
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, "a", map[string]any{"name": "alice"}))

	_, found, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found, "precondition: cache must start empty")

	row, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", row["name"])

	cachedRow, found, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found, "Get should have lazily populated the cache")
	assert.Equal(t, "alice", cachedRow["name"])
}

func TestStore_DeletePropagatesToBoth(t *testing.T) {
	cache := memory.New()
	durable := memory.New()
	s := New(cache, durable)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", map[string]any{"name": "alice"}))
	require.NoError(t, s.Delete(ctx, "a"))

	_, found, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = durable.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SearchUsesDurableAsSourceOfTruth(t *testing.T) {
	cache := memory.New()
	durable := memory.New()
	s := New(cache, durable)
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, "a", map[string]any{"team": "red"}))

	matches, err := s.Search(ctx, map[string]any{"team": "red"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestStore_DeleteSearchReturnsDurableCount(t *testing.T) {
	cache := memory.New()
	durable := memory.New()
	s := New(cache, durable)
	ctx := context.Background()

	require.NoError(t, s.PutBulk(ctx, map[string]map[string]any{
		"a": {"team": "red"},
		"b": {"team": "red"},
		"c": {"team": "blue"},
	}))

	n, err := s.DeleteSearch(ctx, []repository.SearchCriteria{{Field: "team", Op: repository.OpEq, Value: "red"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := durable.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
