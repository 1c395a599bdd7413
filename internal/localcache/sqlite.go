// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite keeps the cache and the backup queue in one database file. It
// satisfies both Cache and BackupQueue.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		// INSERT OR REPLACE gives a rewritten key a fresh seq.
		`CREATE TABLE IF NOT EXISTS backup_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func keyArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

// --- Cache ---

func (s *SQLite) Get(ctx context.Context, keys []string) (map[string]any, error) {
	query := `SELECT key, value FROM kv`
	if len(keys) > 0 {
		query += ` WHERE key IN (` + placeholders(len(keys)) + `)`
	}
	rows, err := s.db.QueryContext(ctx, query, keyArgs(keys)...)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding cache value %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

func (s *SQLite) Set(ctx context.Context, items map[string]any) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for k, v := range items {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding cache value %q: %w", k, err)
		}
		if _, err := stmt.ExecContext(ctx, k, string(data)); err != nil {
			return fmt.Errorf("writing cache value %q: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key IN (`+placeholders(len(keys))+`)`, keyArgs(keys)...)
	if err != nil {
		return fmt.Errorf("removing cache keys: %w", err)
	}
	return nil
}

// --- BackupQueue ---

func (s *SQLite) Put(ctx context.Context, items map[string]any) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO backup_queue (key, value, ts) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	for _, k := range slices.Sorted(maps.Keys(items)) {
		data, err := json.Marshal(items[k])
		if err != nil {
			return fmt.Errorf("encoding backup value %q: %w", k, err)
		}
		if _, err := stmt.ExecContext(ctx, k, string(data), ts); err != nil {
			return fmt.Errorf("queueing backup value %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Pending returns the queued entries. Rows whose value no longer decodes
// can never be replayed; they are deleted.
func (s *SQLite) Pending(ctx context.Context) (Backup, error) {
	b, corrupt, err := s.readQueue(ctx)
	if err != nil {
		return Backup{}, err
	}
	if len(corrupt) > 0 {
		args := make([]any, len(corrupt))
		for i, seq := range corrupt {
			args[i] = seq
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM backup_queue WHERE seq IN (`+placeholders(len(corrupt))+`)`, args...); err != nil {
			return Backup{}, fmt.Errorf("removing corrupt backup rows: %w", err)
		}
	}
	return b, nil
}

func (s *SQLite) readQueue(ctx context.Context) (Backup, []int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, key, value, ts FROM backup_queue ORDER BY seq`)
	if err != nil {
		return Backup{}, nil, fmt.Errorf("querying backup queue: %w", err)
	}
	defer rows.Close()

	b := Backup{Items: make(map[string]any)}
	var corrupt []int64
	for rows.Next() {
		var (
			seq          int64
			key, raw, ts string
		)
		if err := rows.Scan(&seq, &key, &raw, &ts); err != nil {
			return Backup{}, nil, fmt.Errorf("scanning backup row: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			corrupt = append(corrupt, seq)
			continue
		}
		b.Items[key] = v
		b.Keys = append(b.Keys, key)
		b.Seq = max(b.Seq, seq)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil && t.After(b.Timestamp) {
			b.Timestamp = t
		}
	}
	return b, corrupt, rows.Err()
}

func (s *SQLite) Ack(ctx context.Context, b Backup) error {
	if b.Seq <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM backup_queue WHERE seq <= ?`, b.Seq); err != nil {
		return fmt.Errorf("acknowledging backup: %w", err)
	}
	return nil
}
