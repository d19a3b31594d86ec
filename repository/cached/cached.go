// Package cached composes a volatile front store with a durable back store
// into a single repository.Repository: writes go synchronously to
// the durable store then to the cache; reads check the cache first, fall
// back to the durable store on miss, and lazily populate the cache;
// SubscribeToChanges polls the durable store, same as any other backend.
//
// Grounded on the layered in-memory-in-front-of-durable-store pattern used
// for graph checkpointing; no single source file implements this exact
// composition, so the wiring is new but built from the same Repository
// contract every other backend in this package satisfies.
package cached

import (
	"context"
	"fmt"

	"github.com/workglow-dev/workglow/repository"
)

// Store fronts a durable repository.Repository with a volatile cache.
type Store struct {
	cache   repository.Repository
	durable repository.Repository
}

// New returns a Store that reads through cache to durable and writes
// synchronously to both.
func New(cache, durable repository.Repository) *Store {
	return &Store{cache: cache, durable: durable}
}

func (s *Store) Put(ctx context.Context, key string, row map[string]any) error {
	if err := s.durable.Put(ctx, key, row); err != nil {
		return fmt.Errorf("repository/cached: durable put %s: %w", key, err)
	}
	return s.cache.Put(ctx, key, row)
}

func (s *Store) PutBulk(ctx context.Context, rows map[string]map[string]any) error {
	if err := s.durable.PutBulk(ctx, rows); err != nil {
		return fmt.Errorf("repository/cached: durable put bulk: %w", err)
	}
	return s.cache.PutBulk(ctx, rows)
}

func (s *Store) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	if row, found, err := s.cache.Get(ctx, key); err == nil && found {
		return row, true, nil
	}

	row, found, err := s.durable.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("repository/cached: durable get %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	// Lazily populate the cache; a populate failure doesn't fail the read.
	_ = s.cache.Put(ctx, key, row)
	return row, true, nil
}

func (s *Store) Search(ctx context.Context, partial map[string]any) (map[string]map[string]any, error) {
	all, err := s.durable.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository/cached: search: %w", err)
	}
	out := make(map[string]map[string]any)
	for k, row := range all {
		if repository.MatchesPartial(row, partial) {
			out[k] = row
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.durable.Delete(ctx, key); err != nil {
		return fmt.Errorf("repository/cached: durable delete %s: %w", key, err)
	}
	return s.cache.Delete(ctx, key)
}

func (s *Store) DeleteSearch(ctx context.Context, criteria []repository.SearchCriteria) (int, error) {
	n, err := s.durable.DeleteSearch(ctx, criteria)
	if err != nil {
		return n, fmt.Errorf("repository/cached: durable delete search: %w", err)
	}
	if _, err := s.cache.DeleteSearch(ctx, criteria); err != nil {
		return n, fmt.Errorf("repository/cached: cache delete search: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.durable.DeleteAll(ctx); err != nil {
		return fmt.Errorf("repository/cached: durable delete all: %w", err)
	}
	return s.cache.DeleteAll(ctx)
}

func (s *Store) GetAll(ctx context.Context) (map[string]map[string]any, error) {
	all, err := s.durable.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository/cached: get all: %w", err)
	}
	return all, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n, err := s.durable.Size(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository/cached: size: %w", err)
	}
	return n, nil
}

// SubscribeToChanges delegates to the durable store, which is the source of
// truth for every writer (not just this process's cache).
func (s *Store) SubscribeToChanges(ctx context.Context, callback func(repository.ChangeEvent), opts repository.SubscribeOptions) (repository.Unsubscribe, error) {
	return s.durable.SubscribeToChanges(ctx, callback, opts)
}
