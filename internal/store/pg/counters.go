package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/replyengine/internal/store"
)

// CounterStore implements store.CounterStore backed by Postgres.
type CounterStore struct {
	db *sql.DB
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const selectCounters = `SELECT window_start, reply_count, last_reply_at, multiplier FROM reply_counters WHERE counter_key = $1`

func (s *CounterStore) Get(ctx context.Context, key string) (store.Counters, error) {
	return scanCounters(s.db.QueryRowContext(ctx, selectCounters, key), key)
}

func (s *CounterStore) Set(ctx context.Context, key string, c store.Counters) error {
	return upsert(ctx, s.db, key, c)
}

// Update locks the row with SELECT ... FOR UPDATE, so concurrent replies to
// the same sender or group are counted one after another. A missing row is
// inserted first so there is always something to lock.
func (s *CounterStore) Update(ctx context.Context, key string, fn func(store.Counters) store.Counters) (store.Counters, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Counters{}, fmt.Errorf("begin update %s: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reply_counters (counter_key) VALUES ($1) ON CONFLICT (counter_key) DO NOTHING`, key,
	); err != nil {
		return store.Counters{}, fmt.Errorf("seed counters %s: %w", key, err)
	}
	c, err := scanCounters(tx.QueryRowContext(ctx, selectCounters+` FOR UPDATE`, key), key)
	if err != nil {
		return store.Counters{}, err
	}
	c = fn(c)
	if err := upsert(ctx, tx, key, c); err != nil {
		return store.Counters{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Counters{}, fmt.Errorf("commit update %s: %w", key, err)
	}
	return c, nil
}

func scanCounters(row *sql.Row, key string) (store.Counters, error) {
	var c store.Counters
	var ws, last sql.NullTime
	err := row.Scan(&ws, &c.ReplyCount, &last, &c.Multiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Counters{}, store.ErrNotFound
	}
	if err != nil {
		return store.Counters{}, fmt.Errorf("get counters %s: %w", key, err)
	}
	if ws.Valid {
		c.WindowStart = ws.Time
	}
	if last.Valid {
		c.LastReplyAt = last.Time
	}
	return c, nil
}

func upsert(ctx context.Context, q querier, key string, c store.Counters) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO reply_counters (counter_key, window_start, reply_count, last_reply_at, multiplier, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (counter_key) DO UPDATE SET
		   window_start = EXCLUDED.window_start,
		   reply_count = EXCLUDED.reply_count,
		   last_reply_at = EXCLUDED.last_reply_at,
		   multiplier = EXCLUDED.multiplier,
		   updated_at = EXCLUDED.updated_at`,
		key, nullTime(c.WindowStart), c.ReplyCount, nullTime(c.LastReplyAt), c.Multiplier, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set counters %s: %w", key, err)
	}
	return nil
}

func (s *CounterStore) Close() error { return s.db.Close() }

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
