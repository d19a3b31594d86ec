// Package memory implements repository.Repository as an in-process map,
// the volatile front used by repository/cached and the default backend for
// tests.
//
// Grounded on store/memory's checkpoint store (its test-only file shows an
// in-process map keyed by checkpoint ID guarded by a mutex); generalized
// here to the full Repository contract.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/workglow-dev/workglow/repository"
)

// Store is an in-memory repository.Repository, safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	rows map[string]map[string]any
}

// New returns an empty store.
func New() *Store {
	return &Store{rows: make(map[string]map[string]any)}
}

func (s *Store) Put(ctx context.Context, key string, row map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = maps.Clone(row)
	return nil
}

func (s *Store) PutBulk(ctx context.Context, rows map[string]map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range rows {
		s.rows[k] = maps.Clone(v)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(row), true, nil
}

func (s *Store) Search(ctx context.Context, partial map[string]any) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any)
	for k, row := range s.rows {
		if repository.MatchesPartial(row, partial) {
			out[k] = maps.Clone(row)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}

func (s *Store) DeleteSearch(ctx context.Context, criteria []repository.SearchCriteria) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, row := range s.rows {
		if matchesAll(row, criteria) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

func matchesAll(row map[string]any, criteria []repository.SearchCriteria) bool {
	for _, c := range criteria {
		if !c.Matches(row) {
			return false
		}
	}
	return true
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]map[string]any)
	return nil
}

func (s *Store) GetAll(ctx context.Context) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.rows))
	for k, row := range s.rows {
		out[k] = maps.Clone(row)
	}
	return out, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// SubscribeToChanges polls GetAll at opts.PollInterval, diffs snapshots by
// key and deep-equality, and invokes callback once per add/update/delete,
// serialised (one poll's callbacks run to completion before the next poll
// starts).
func (s *Store) SubscribeToChanges(ctx context.Context, callback func(repository.ChangeEvent), opts repository.SubscribeOptions) (repository.Unsubscribe, error) {
	return repository.PollSubscribe(ctx, s.GetAll, callback, opts)
}
