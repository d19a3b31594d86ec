// Package postgres implements repository.Repository on top of a
// single JSONB column table, one row per key.
//
// Grounded on store/postgres.PostgresCheckpointStore
// (store/postgres/postgres.go): same DBPool narrow interface (so tests can
// swap in pgxmock without a live server), same table-name option, same
// CREATE TABLE IF NOT EXISTS / INSERT ... ON CONFLICT shape — generalized
// from the fixed checkpoint columns to one opaque `data JSONB` row per key.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/workglow-dev/workglow/repository"
)

// DBPool is the narrow pgx surface the store needs, matching
// *pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements repository.Repository over Postgres.
type Store struct {
	pool      DBPool
	tableName string
}

// Options configures a Store.
type Options struct {
	TableName string // default "repository_rows"
}

// New wraps an existing pool (or mock) as a repository.Repository.
func New(pool DBPool, opts Options) *Store {
	tableName := opts.TableName
	if tableName == "" {
		tableName = "repository_rows"
	}
	return &Store{pool: pool, tableName: tableName}
}

// InitSchema creates the backing table if it doesn't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("repository/postgres: create schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, row map[string]any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("repository/postgres: marshal row: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("repository/postgres: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) PutBulk(ctx context.Context, rows map[string]map[string]any) error {
	for key, row := range rows {
		if err := s.Put(ctx, key, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE key = $1`, s.tableName)
	var data []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository/postgres: get %s: %w", key, err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, false, fmt.Errorf("repository/postgres: unmarshal %s: %w", key, err)
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("repository/postgres: delete %s: %w", key, err)
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
	query := fmt.Sprintf(`DELETE FROM %s`, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("repository/postgres: delete all: %w", err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context) (map[string]map[string]any, error) {
	query := fmt.Sprintf(`SELECT key, data FROM %s`, s.tableName)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository/postgres: get all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("repository/postgres: scan row: %w", err)
		}
		var row map[string]any
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("repository/postgres: unmarshal %s: %w", key, err)
		}
		out[key] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository/postgres: iterate rows: %w", err)
	}
	return out, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, s.tableName)
	var n int
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository/postgres: size: %w", err)
	}
	return n, nil
}

// SubscribeToChanges polls GetAll through repository.PollSubscribe, the
// shared poll-and-diff helper; repository/cached delegates its
// subscriptions to the durable store unchanged.
func (s *Store) SubscribeToChanges(ctx context.Context, callback func(repository.ChangeEvent), opts repository.SubscribeOptions) (repository.Unsubscribe, error) {
	return repository.PollSubscribe(ctx, s.GetAll, callback, opts)
}
