// Package sqlite stores counters in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/replyengine/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS reply_counters (
	key           TEXT PRIMARY KEY,
	window_start  INTEGER NOT NULL,
	reply_count   INTEGER NOT NULL,
	last_reply_at INTEGER NOT NULL,
	multiplier    REAL NOT NULL,
	updated_at    INTEGER NOT NULL
)`

// Store is a CounterStore backed by modernc.org/sqlite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory and the schema when missing.
// path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) Get(ctx context.Context, key string) (store.Counters, error) {
	return get(ctx, s.db, key)
}

func (s *Store) Set(ctx context.Context, key string, c store.Counters) error {
	return set(ctx, s.db, key, c)
}

// Update runs read-modify-write in one transaction. The pool holds a single
// connection, so concurrent Updates queue behind the open transaction.
func (s *Store) Update(ctx context.Context, key string, fn func(store.Counters) store.Counters) (store.Counters, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Counters{}, fmt.Errorf("begin update %s: %w", key, err)
	}
	defer tx.Rollback()

	c, err := get(ctx, tx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Counters{}, err
	}
	c = fn(c)
	if err := set(ctx, tx, key, c); err != nil {
		return store.Counters{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Counters{}, fmt.Errorf("commit update %s: %w", key, err)
	}
	return c, nil
}

func get(ctx context.Context, q querier, key string) (store.Counters, error) {
	var ws, last int64
	var c store.Counters
	err := q.QueryRowContext(ctx,
		`SELECT window_start, reply_count, last_reply_at, multiplier FROM reply_counters WHERE key = ?`, key,
	).Scan(&ws, &c.ReplyCount, &last, &c.Multiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Counters{}, store.ErrNotFound
	}
	if err != nil {
		return store.Counters{}, fmt.Errorf("get counters %s: %w", key, err)
	}
	c.WindowStart = fromMillis(ws)
	c.LastReplyAt = fromMillis(last)
	return c, nil
}

func set(ctx context.Context, q querier, key string, c store.Counters) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO reply_counters (key, window_start, reply_count, last_reply_at, multiplier, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   window_start = excluded.window_start,
		   reply_count = excluded.reply_count,
		   last_reply_at = excluded.last_reply_at,
		   multiplier = excluded.multiplier,
		   updated_at = excluded.updated_at`,
		key, toMillis(c.WindowStart), c.ReplyCount, toMillis(c.LastReplyAt), c.Multiplier, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set counters %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
