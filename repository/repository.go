// Package repository implements an abstract tabular key/value store:
// schema-agnostic rows (map[string]any) addressed by a string key,
// with partial-match search, bulk writes, and poll-based change
// subscriptions. Concrete backends live in repository/memory,
// repository/postgres, repository/redis, and repository/sqlite;
// repository/cached composes a volatile front with any durable backend,
// and repository/taskcache implements the TaskOutput cache on top of a
// Repository.
//
// Grounded on store.CheckpointStore (store/checkpoint.go),
// generalized from a single checkpoint shape (id/nodeName/state/metadata)
// to an arbitrary row map, and from Save/Load/List/Delete/Clear to the
// full Put/PutBulk/Get/Search/Delete/DeleteSearch/DeleteAll/GetAll/Size/
// SubscribeToChanges contract.
package repository

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Op names a comparison a SearchCriteria applies to one field.
type Op string

const (
	OpEq       Op = "eq"
	OpNotEq    Op = "neq"
	OpPrefix   Op = "prefix"
	OpContains Op = "contains"
)

// SearchCriteria filters rows by one field, used by DeleteSearch. Search
// itself takes a partial row (field->value equality map) rather than a
// criteria list.
type SearchCriteria struct {
	Field string
	Op    Op
	Value any
}

// Matches reports whether row satisfies c.
func (c SearchCriteria) Matches(row map[string]any) bool {
	v, ok := row[c.Field]
	switch c.Op {
	case OpNotEq:
		return !ok || !reflect.DeepEqual(v, c.Value)
	case OpPrefix:
		s, sOK := v.(string)
		prefix, pOK := c.Value.(string)
		return ok && sOK && pOK && len(s) >= len(prefix) && s[:len(prefix)] == prefix
	case OpContains:
		s, sOK := v.(string)
		sub, subOK := c.Value.(string)
		if !ok || !sOK || !subOK {
			return false
		}
		return strings.Contains(s, sub)
	default: // OpEq
		return ok && reflect.DeepEqual(v, c.Value)
	}
}

// ChangeEvent describes one row mutation observed by a change subscription.
type ChangeEvent struct {
	Key     string
	Row     map[string]any
	Deleted bool
}

// SubscribeOptions configures a change subscription's poll cadence.
type SubscribeOptions struct {
	// PollInterval between durable-source snapshots, default 1s.
	PollInterval time.Duration
}

// Unsubscribe stops a change subscription started by SubscribeToChanges.
type Unsubscribe func()

// Repository is the abstract tabular store every backend in this package
// implements.
type Repository interface {
	Put(ctx context.Context, key string, row map[string]any) error
	PutBulk(ctx context.Context, rows map[string]map[string]any) error
	Get(ctx context.Context, key string) (row map[string]any, found bool, err error)
	// Search returns every row whose fields are a superset match of
	// partial (each key in partial must be present in the row with an
	// equal value).
	Search(ctx context.Context, partial map[string]any) (map[string]map[string]any, error)
	Delete(ctx context.Context, key string) error
	// DeleteSearch deletes every row matching all of criteria, returning
	// the count deleted.
	DeleteSearch(ctx context.Context, criteria []SearchCriteria) (int, error)
	DeleteAll(ctx context.Context) error
	GetAll(ctx context.Context) (map[string]map[string]any, error)
	Size(ctx context.Context) (int, error)
	// SubscribeToChanges polls the store at opts.PollInterval, diffing
	// snapshots, and invokes callback once per detected change; calls to
	// one callback are serialised. Returns a function that stops polling.
	SubscribeToChanges(ctx context.Context, callback func(ChangeEvent), opts SubscribeOptions) (Unsubscribe, error)
}

// MatchesPartial reports whether row is a superset match of partial —
// shared by every backend's Search implementation.
func MatchesPartial(row, partial map[string]any) bool {
	for k, v := range partial {
		rv, ok := row[k]
		if !ok || !reflect.DeepEqual(rv, v) {
			return false
		}
	}
	return true
}

// PollSubscribe implements the poll-and-diff SubscribeToChanges contract
// shared by the durable backends (postgres, redis, sqlite): it calls
// snapshot on a ticker, diffs the result against the previous snapshot by
// key and deep-equality, and invokes callback once per added/changed/
// removed row. One subscriber's callbacks are serialised by running them
// synchronously on the poll goroutine.
func PollSubscribe(ctx context.Context, snapshot func(context.Context) (map[string]map[string]any, error), callback func(ChangeEvent), opts SubscribeOptions) (Unsubscribe, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	prev, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				curr, err := snapshot(ctx)
				if err != nil {
					continue
				}
				diffSnapshots(prev, curr, callback)
				prev = curr
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }, nil
}

func diffSnapshots(prev, curr map[string]map[string]any, callback func(ChangeEvent)) {
	for k, row := range curr {
		if old, existed := prev[k]; !existed || !reflect.DeepEqual(old, row) {
			callback(ChangeEvent{Key: k, Row: row})
		}
	}
	for k, row := range prev {
		if _, stillThere := curr[k]; !stillThere {
			callback(ChangeEvent{Key: k, Row: row, Deleted: true})
		}
	}
}
