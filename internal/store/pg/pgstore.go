// Package pg backs the shared state log with Postgres. Records append to a
// single state_log table; the current value of a key is its latest row.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"accord.org/internal/ids"
	"accord.org/internal/statelog"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ statelog.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the state_log table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists state_log (
			seq     bigserial primary key,
			key     text not null,
			tx_id   text not null,
			ts      timestamptz not null,
			value   bytea,
			deleted boolean not null default false
		);
		create index if not exists state_log_key_seq on state_log (key, seq desc);
	`)
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx statelog.ReadTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&view{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Update(ctx context.Context, fn func(tx statelog.Tx) error) (statelog.Commit, error) {
	dbtx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return statelog.Commit{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	tx := &writeTx{
		view:   view{ctx: ctx, tx: dbtx},
		txID:   ids.NewTx(),
		ts:     s.now(),
		staged: make(map[string]statelog.Record),
	}
	if err := fn(tx); err != nil {
		return statelog.Commit{}, err
	}

	for _, key := range tx.order {
		rec := tx.staged[key]
		if _, err := dbtx.ExecContext(ctx, `
			insert into state_log(key, tx_id, ts, value, deleted)
			values ($1,$2,$3,$4,$5)
		`, key, rec.TxID, rec.Timestamp, rec.Value, rec.Deleted); err != nil {
			return statelog.Commit{}, err
		}
	}
	if err := dbtx.Commit(); err != nil {
		return statelog.Commit{}, err
	}
	return statelog.Commit{TxID: tx.txID, Timestamp: tx.ts}, nil
}

// view reads committed rows inside one database transaction.
type view struct {
	ctx context.Context
	tx  *sql.Tx
}

func (v *view) Get(key string) ([]byte, error) {
	var value []byte
	var deleted bool
	err := v.tx.QueryRowContext(v.ctx, `
		select value, deleted from state_log
		where key=$1 order by seq desc limit 1
	`, key).Scan(&value, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, statelog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, statelog.ErrNotFound
	}
	return value, nil
}

func (v *view) Range(prefix string) ([]statelog.KV, error) {
	rows, err := v.tx.QueryContext(v.ctx, `
		select distinct on (key) key, value, deleted from state_log
		where key like $1 order by key, seq desc
	`, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []statelog.KV
	for rows.Next() {
		var kv statelog.KV
		var deleted bool
		if err := rows.Scan(&kv.Key, &kv.Value, &deleted); err != nil {
			return nil, err
		}
		if deleted {
			continue
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

func (v *view) History(key string) ([]statelog.Record, error) {
	rows, err := v.tx.QueryContext(v.ctx, `
		select tx_id, ts, value, deleted from state_log
		where key=$1 order by seq desc
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []statelog.Record
	for rows.Next() {
		var rec statelog.Record
		if err := rows.Scan(&rec.TxID, &rec.Timestamp, &rec.Value, &rec.Deleted); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, statelog.ErrNotFound
	}
	return out, nil
}

// writeTx layers staged writes over the database view so readers inside the
// transaction see their own writes. Rows are inserted at commit.
type writeTx struct {
	view
	txID   string
	ts     time.Time
	staged map[string]statelog.Record
	order  []string
}

func (t *writeTx) TxID() string         { return t.txID }
func (t *writeTx) Timestamp() time.Time { return t.ts }

func (t *writeTx) Put(key string, value []byte) {
	t.stage(key, statelog.Record{TxID: t.txID, Timestamp: t.ts, Value: value})
}

func (t *writeTx) Delete(key string) {
	t.stage(key, statelog.Record{TxID: t.txID, Timestamp: t.ts, Deleted: true})
}

func (t *writeTx) stage(key string, rec statelog.Record) {
	if _, seen := t.staged[key]; !seen {
		t.order = append(t.order, key)
	}
	t.staged[key] = rec
}

func (t *writeTx) Get(key string) ([]byte, error) {
	if rec, ok := t.staged[key]; ok {
		if rec.Deleted {
			return nil, statelog.ErrNotFound
		}
		return rec.Value, nil
	}
	return t.view.Get(key)
}

func (t *writeTx) Range(prefix string) ([]statelog.KV, error) {
	committed, err := t.view.Range(prefix)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(committed))
	keys := make([]string, 0, len(committed))
	for _, kv := range committed {
		merged[kv.Key] = kv.Value
		keys = append(keys, kv.Key)
	}
	for _, key := range t.order {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rec := t.staged[key]
		if rec.Deleted {
			delete(merged, key)
			continue
		}
		if _, ok := merged[key]; !ok {
			keys = append(keys, key)
		}
		merged[key] = rec.Value
	}
	sort.Strings(keys)
	out := make([]statelog.KV, 0, len(merged))
	for _, key := range keys {
		if value, ok := merged[key]; ok {
			out = append(out, statelog.KV{Key: key, Value: value})
		}
	}
	return out, nil
}

func (t *writeTx) History(key string) ([]statelog.Record, error) {
	committed, err := t.view.History(key)
	rec, staged := t.staged[key]
	if !staged {
		return committed, err
	}
	if err != nil && !errors.Is(err, statelog.ErrNotFound) {
		return nil, err
	}
	return append([]statelog.Record{rec}, committed...), nil
}

// likePrefix escapes LIKE metacharacters so the prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
