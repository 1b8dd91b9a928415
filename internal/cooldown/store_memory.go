package cooldown

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	until time.Time
	token string
}

// InMemoryTracker keeps cooldowns in process. Expired entries are dropped
// lazily on read and on each Reserve.
type InMemoryTracker struct {
	mu      sync.Mutex
	entries map[Key]entry
	now     func() time.Time
}

// NewInMemoryTracker creates a tracker. A nil clock means time.Now.
func NewInMemoryTracker(now func() time.Time) *InMemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &InMemoryTracker{entries: make(map[Key]entry), now: now}
}

func (t *InMemoryTracker) Reserve(_ context.Context, k Key, hold time.Duration) (Reservation, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, e := range t.entries {
		if !e.until.After(now) {
			delete(t.entries, key)
		}
	}
	if e, ok := t.entries[k]; ok {
		return Reservation{}, e.until.Sub(now), nil
	}
	r := newReservation(k)
	t.entries[k] = entry{until: now.Add(hold), token: r.Token}
	return r, 0, nil
}

func (t *InMemoryTracker) Commit(_ context.Context, r Reservation, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if e, ok := t.entries[r.Key]; ok && e.token != r.Token && e.until.After(now) {
		return ErrClaimLost
	}
	if d <= 0 {
		delete(t.entries, r.Key)
		return nil
	}
	t.entries[r.Key] = entry{until: now.Add(d)}
	return nil
}

func (t *InMemoryTracker) Release(_ context.Context, r Reservation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[r.Key]; ok && e.token == r.Token {
		delete(t.entries, r.Key)
	}
	return nil
}

func (t *InMemoryTracker) Remaining(_ context.Context, k Key) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok {
		return 0, nil
	}
	remaining := e.until.Sub(t.now())
	if remaining <= 0 {
		delete(t.entries, k)
		return 0, nil
	}
	return remaining, nil
}
