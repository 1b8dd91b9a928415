package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Cursor remembers the highest sequence number delivered to the sink. It is
// advanced only after the sink acknowledged, so a crash re-delivers at most
// one batch.
type Cursor interface {
	Load(ctx context.Context) (uint64, error)
	Store(ctx context.Context, seq uint64) error
}

// MemoryCursor starts from zero on every process start.
type MemoryCursor struct {
	seq atomic.Uint64
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{}
}

func (c *MemoryCursor) Load(context.Context) (uint64, error) {
	return c.seq.Load(), nil
}

func (c *MemoryCursor) Store(_ context.Context, seq uint64) error {
	c.seq.Store(seq)
	return nil
}

// RedisCursor persists the cursor under a single key.
type RedisCursor struct {
	client *redis.Client
	key    string
}

func NewRedisCursor(client *redis.Client, name string) *RedisCursor {
	return &RedisCursor{client: client, key: "afterimage:export:cursor:" + name}
}

func (c *RedisCursor) Load(ctx context.Context) (uint64, error) {
	raw, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load export cursor: %w", err)
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse export cursor %q: %w", raw, err)
	}
	return seq, nil
}

func (c *RedisCursor) Store(ctx context.Context, seq uint64) error {
	if err := c.client.Set(ctx, c.key, strconv.FormatUint(seq, 10), 0).Err(); err != nil {
		return fmt.Errorf("store export cursor: %w", err)
	}
	return nil
}
