// Package kvstore persists shared JSON key/value state in SQLite.
//
// Every host process on the machine opens the same database in WAL mode, so
// the file acts as the shared state all instances coordinate through.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// UpdateFunc computes the next value of a key from its current raw JSON value.
type UpdateFunc func(current json.RawMessage, found bool) (any, error)

// KV is the key/value contract shared by the SQLite and in-memory stores.
type KV interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Store is a SQLite-backed KV.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ KV = (*Store)(nil)

// Open opens (or creates) the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`)
		return err
	})
}

// Get decodes the value stored under key into dest and reports whether it existed.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := retryOnContention(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key as JSON.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	err = retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, string(encoded), s.now().UTC().Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Update applies fn to key inside an immediate transaction, so concurrent
// processes never interleave a read-modify-write on the same database.
func (s *Store) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if fn == nil {
		return errors.New("update func is required")
	}
	err := retryOnContention(ctx, func() error {
		return s.update(ctx, key, fn)
	})
	if err != nil {
		return fmt.Errorf("update %q: %w", key, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, key string, fn UpdateFunc) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	var raw string
	found := true
	scanErr := conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(scanErr, sql.ErrNoRows) {
		found = false
	} else if scanErr != nil {
		return scanErr
	}

	var current json.RawMessage
	if found {
		current = json.RawMessage(raw)
	}
	next, err := fn(current, found)
	if err != nil {
		return permanent(err)
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return permanent(fmt.Errorf("encode: %w", err))
	}
	if _, err = conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `COMMIT`)
	return err
}
