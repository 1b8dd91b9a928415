package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"afterimage/internal/ledger"
	"afterimage/pkg/platform/sentinel"
)

// InMemoryStore keeps the chain in a slice whose header is swapped
// atomically on every append. Readers load the header once and never block
// the writer; elements below the published length are never written again.
type InMemoryStore struct {
	mu      sync.Mutex
	records atomic.Pointer[[]ledger.Record]
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	empty := make([]ledger.Record, 0, 64)
	s.records.Store(&empty)
	return s
}

func (s *InMemoryStore) Append(ctx context.Context, r ledger.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.records.Load()
	want := uint64(len(cur)) + 1
	if r.SequenceNo() != want {
		return fmt.Errorf("append sequence %d, expected %d: %w", r.SequenceNo(), want, sentinel.ErrConflict)
	}
	next := append(cur, r)
	s.records.Store(&next)
	return nil
}

func (s *InMemoryStore) Last(ctx context.Context) (ledger.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, false, err
	}
	cur := *s.records.Load()
	if len(cur) == 0 {
		return ledger.Record{}, false, nil
	}
	return cur[len(cur)-1], true, nil
}

func (s *InMemoryStore) Range(ctx context.Context, from, to uint64) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cur := *s.records.Load()
	n := uint64(len(cur))
	if from == 0 {
		from = 1
	}
	if to == 0 || to > n {
		to = n
	}
	if from > to {
		return []ledger.Record{}, nil
	}
	out := make([]ledger.Record, to-from+1)
	copy(out, cur[from-1:to])
	return out, nil
}

// Len returns the number of committed records.
func (s *InMemoryStore) Len() int {
	return len(*s.records.Load())
}
