// Package statelog is the shared ledger every component writes through.
// State is never overwritten in place: each write appends a record layered
// over the prior ones, the current value of a key is the latest record, and
// history queries replay the per-key log newest-first.
package statelog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the key has no live record (absent or deleted).
var ErrNotFound = errors.New("not found")

// Record is one committed write to a key, stamped with the transaction that
// produced it.
type Record struct {
	TxID      string    `json:"tx_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     []byte    `json:"value,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// KV is a key with its current value, as returned by Range.
type KV struct {
	Key   string
	Value []byte
}

// Commit identifies one applied transaction.
type Commit struct {
	TxID      string
	Timestamp time.Time
}

// ReadTx is a snapshot view of the ledger.
type ReadTx interface {
	// Get returns the current value of key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Range returns current values for all live keys with the prefix,
	// ordered by key.
	Range(prefix string) ([]KV, error)
	// History returns all records ever written to key, newest first.
	History(key string) ([]Record, error)
}

// Tx is a read-your-writes transaction. Staged writes become visible to
// other readers only when the enclosing Update commits.
type Tx interface {
	ReadTx
	Put(key string, value []byte)
	Delete(key string)
	// TxID and Timestamp identify the commit being built; entities that
	// embed a creation transaction or time use these so replicas replay
	// to identical state.
	TxID() string
	Timestamp() time.Time
}

// Store is the single-writer, multi-reader ledger. Update runs fn with the
// writer lock held and applies its staged writes atomically; a non-nil error
// from fn discards everything (all-or-nothing). View runs fn against a
// consistent read snapshot and may execute concurrently with other views.
type Store interface {
	View(ctx context.Context, fn func(tx ReadTx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) (Commit, error)
}
