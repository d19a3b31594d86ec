// Package redis implements repository.Repository on top of one Redis string
// per row (prefix + "row:" + key -> JSON blob) plus a set tracking all keys
// for GetAll/Size.
//
// Grounded on store/redis.RedisCheckpointStore
// (store/redis/redis.go): same client/prefix/TTL options, same
// Set/Get/pipeline shape — generalized from a two-tier checkpoint+execution
// index to a flat row store with one SADD-tracked key set per prefix.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workglow-dev/workglow/repository"
)

// Store implements repository.Repository over Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures a Store's connection and key namespace.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // default "workglow:"
	TTL      time.Duration // row expiration, default 0 (no expiration)
}

// New dials a Redis client and returns a repository.Repository over it.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "workglow:"
	}
	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *Store) rowKey(key string) string { return fmt.Sprintf("%srow:%s", s.prefix, key) }
func (s *Store) indexKey() string         { return fmt.Sprintf("%sindex", s.prefix) }

func (s *Store) Put(ctx context.Context, key string, row map[string]any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("repository/redis: marshal %s: %w", key, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.rowKey(key), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository/redis: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) PutBulk(ctx context.Context, rows map[string]map[string]any) error {
	pipe := s.client.Pipeline()
	for key, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("repository/redis: marshal %s: %w", key, err)
		}
		pipe.Set(ctx, s.rowKey(key), data, s.ttl)
		pipe.SAdd(ctx, s.indexKey(), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository/redis: put bulk: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	data, err := s.client.Get(ctx, s.rowKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository/redis: get %s: %w", key, err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, false, fmt.Errorf("repository/redis: unmarshal %s: %w", key, err)
	}
	return row, true, nil
}

func (s *Store) Search(ctx context.Context, partial map[string]any) (map[string]map[string]any, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
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
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.rowKey(key))
	pipe.SRem(ctx, s.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository/redis: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteSearch(ctx context.Context, criteria []repository.SearchCriteria) (int, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for k, row := range all {
		if matchesAll(row, criteria) {
			if err := s.Delete(ctx, k); err != nil {
				return n, err
			}
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
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("repository/redis: delete all: list keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, s.rowKey(k))
	}
	pipe.Del(ctx, s.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("repository/redis: delete all: %w", err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context) (map[string]map[string]any, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("repository/redis: get all: list keys: %w", err)
	}
	out := make(map[string]map[string]any, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rowKeys := make([]string, len(keys))
	for i, k := range keys {
		rowKeys[i] = s.rowKey(k)
	}
	results, err := s.client.MGet(ctx, rowKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("repository/redis: get all: mget: %w", err)
	}
	for i, result := range results {
		if result == nil {
			continue
		}
		str, ok := result.(string)
		if !ok {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(str), &row); err != nil {
			continue
		}
		out[keys[i]] = row
	}
	return out, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("repository/redis: size: %w", err)
	}
	return int(n), nil
}

func (s *Store) SubscribeToChanges(ctx context.Context, callback func(repository.ChangeEvent), opts repository.SubscribeOptions) (repository.Unsubscribe, error) {
	return repository.PollSubscribe(ctx, s.GetAll, callback, opts)
}
