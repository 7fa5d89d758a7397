package statelog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"accord.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Every node
// replaying the same operation sequence against an InMemory store reaches
// identical state.
type InMemory struct {
	mu   sync.RWMutex
	log  map[string][]Record
	keys []string // insertion-ordered live key index
	now  func() time.Time
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		log: make(map[string][]Record),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the commit clock. Tests use this for deterministic
// expiration arithmetic.
func (s *InMemory) WithClock(now func() time.Time) *InMemory {
	s.now = now
	return s
}

func (s *InMemory) View(ctx context.Context, fn func(tx ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&snapshot{s: s})
}

func (s *InMemory) Update(ctx context.Context, fn func(tx Tx) error) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		snapshot: snapshot{s: s},
		txID:     ids.NewTx(),
		ts:       s.now(),
		staged:   make(map[string]Record),
	}
	if err := fn(tx); err != nil {
		return Commit{}, err
	}

	for _, key := range tx.order {
		rec := tx.staged[key]
		if _, seen := s.log[key]; !seen {
			s.keys = append(s.keys, key)
		}
		s.log[key] = append(s.log[key], rec)
	}
	return Commit{TxID: tx.txID, Timestamp: tx.ts}, nil
}

// snapshot reads committed state. The caller holds at least a read lock.
type snapshot struct {
	s *InMemory
}

func (v *snapshot) Get(key string) ([]byte, error) {
	recs, ok := v.s.log[key]
	if !ok {
		return nil, ErrNotFound
	}
	last := recs[len(recs)-1]
	if last.Deleted {
		return nil, ErrNotFound
	}
	return cloneBytes(last.Value), nil
}

func (v *snapshot) Range(prefix string) ([]KV, error) {
	var out []KV
	for _, key := range v.s.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		recs := v.s.log[key]
		last := recs[len(recs)-1]
		if last.Deleted {
			continue
		}
		out = append(out, KV{Key: key, Value: cloneBytes(last.Value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (v *snapshot) History(key string) ([]Record, error) {
	recs, ok := v.s.log[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		rec.Value = cloneBytes(rec.Value)
		out = append(out, rec)
	}
	return out, nil
}

// memTx layers staged writes over a snapshot.
type memTx struct {
	snapshot
	txID   string
	ts     time.Time
	staged map[string]Record
	order  []string
}

func (t *memTx) TxID() string         { return t.txID }
func (t *memTx) Timestamp() time.Time { return t.ts }

func (t *memTx) Put(key string, value []byte) {
	t.stage(key, Record{TxID: t.txID, Timestamp: t.ts, Value: cloneBytes(value)})
}

func (t *memTx) Delete(key string) {
	t.stage(key, Record{TxID: t.txID, Timestamp: t.ts, Deleted: true})
}

func (t *memTx) stage(key string, rec Record) {
	if _, seen := t.staged[key]; !seen {
		t.order = append(t.order, key)
	}
	t.staged[key] = rec
}

func (t *memTx) Get(key string) ([]byte, error) {
	if rec, ok := t.staged[key]; ok {
		if rec.Deleted {
			return nil, ErrNotFound
		}
		return cloneBytes(rec.Value), nil
	}
	return t.snapshot.Get(key)
}

func (t *memTx) Range(prefix string) ([]KV, error) {
	committed, _ := t.snapshot.Range(prefix)
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
	out := make([]KV, 0, len(merged))
	for _, key := range keys {
		if value, ok := merged[key]; ok {
			out = append(out, KV{Key: key, Value: cloneBytes(value)})
		}
	}
	return out, nil
}

func (t *memTx) History(key string) ([]Record, error) {
	committed, err := t.snapshot.History(key)
	rec, staged := t.staged[key]
	if !staged {
		return committed, err
	}
	rec.Value = cloneBytes(rec.Value)
	return append([]Record{rec}, committed...), nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
