package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/repository"
)

func newTestStore(t *testing.T) *Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(Options{Addr: mr.Addr(), Prefix: "test:"})
}

func TestStore_PutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", map[string]any{"name": "alice"}))

	row, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", row["name"])

	require.NoError(t, s.Delete(ctx, "a"))
	_, found, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PutBulkAndGetAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBulk(ctx, map[string]map[string]any{
		"a": {"name": "alice"},
		"b": {"name": "bob"},
	}))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "alice", all["a"]["name"])
	assert.Equal(t, "bob", all["b"]["name"])

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_Search(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBulk(ctx, map[string]map[string]any{
		"a": {"team": "red", "name": "alice"},
		"b": {"team": "blue", "name": "bob"},
	}))

	matches, err := s.Search(ctx, map[string]any{"team": "red"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, "alice", matches["a"]["name"])
}

func TestStore_DeleteSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBulk(ctx, map[string]map[string]any{
		"a": {"team": "red"},
		"b": {"team": "red"},
		"c": {"team": "blue"},
	}))

	n, err := s.DeleteSearch(ctx, []repository.SearchCriteria{{Field: "team", Op: repository.OpEq, Value: "red"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestStore_DeleteAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBulk(ctx, map[string]map[string]any{
		"a": {"x": 1},
		"b": {"x": 2},
	}))
	require.NoError(t, s.DeleteAll(ctx))

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_SubscribeToChanges_ReportsAdd(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan repository.ChangeEvent, 10)
	unsub, err := s.SubscribeToChanges(ctx, func(e repository.ChangeEvent) {
		events <- e
	}, repository.SubscribeOptions{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Put(ctx, "a", map[string]any{"name": "alice"}))

	select {
	case e := <-events:
		assert.Equal(t, "a", e.Key)
		assert.False(t, e.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}
