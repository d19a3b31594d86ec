// Package sqlite implements repository.Repository on top of a single
// JSONB-as-TEXT column table, one row per key.
//
// Grounded on store/sqlite.SqliteCheckpointStore
// (store/sqlite/sqlite.go): same database/sql + go-sqlite3 driver, same
// CREATE TABLE IF NOT EXISTS / INSERT ... ON CONFLICT shape — generalized
// from the fixed checkpoint columns to one opaque `data TEXT` row per key.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/workglow-dev/workglow/repository"
)

// Store implements repository.Repository over SQLite.
type Store struct {
	db        *sql.DB
	tableName string
}

// Options configures a Store's file path and table name.
type Options struct {
	Path      string
	TableName string // default "repository_rows"
}

// New opens (or creates) the SQLite database at opts.Path and ensures the
// backing table exists.
func New(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("repository/sqlite: open %s: %w", opts.Path, err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "repository_rows"
	}

	s := &Store{db: db, tableName: tableName}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the backing table if it doesn't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("repository/sqlite: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, key string, row map[string]any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("repository/sqlite: marshal %s: %w", key, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, key, string(data)); err != nil {
		return fmt.Errorf("repository/sqlite: put %s: %w", key, err)
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
	query := fmt.Sprintf(`SELECT data FROM %s WHERE key = ?`, s.tableName)
	var data string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repository/sqlite: get %s: %w", key, err)
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, false, fmt.Errorf("repository/sqlite: unmarshal %s: %w", key, err)
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("repository/sqlite: delete %s: %w", key, err)
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
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("repository/sqlite: delete all: %w", err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context) (map[string]map[string]any, error) {
	query := fmt.Sprintf(`SELECT key, data FROM %s`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository/sqlite: get all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("repository/sqlite: scan row: %w", err)
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("repository/sqlite: unmarshal %s: %w", key, err)
		}
		out[key] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository/sqlite: iterate rows: %w", err)
	}
	return out, nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, s.tableName)
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository/sqlite: size: %w", err)
	}
	return n, nil
}

// SubscribeToChanges polls GetAll, as the durable-store side of // poll-and-diff subscription contract.
func (s *Store) SubscribeToChanges(ctx context.Context, callback func(repository.ChangeEvent), opts repository.SubscribeOptions) (repository.Unsubscribe, error) {
	return repository.PollSubscribe(ctx, s.GetAll, callback, opts)
}
