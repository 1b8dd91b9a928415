// Package export ships committed ledger records to an external sink in
// sequence order with at-least-once delivery.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"afterimage/internal/ledger"
)

// Source is the read side of the ledger the exporter tails.
type Source interface {
	Head(ctx context.Context) ledger.Head
	Records(ctx context.Context, from, to uint64) ([]ledger.Record, error)
}

// Exporter tails a ledger from a cursor and publishes every new record.
type Exporter struct {
	source  Source
	sink    Sink
	cursor  Cursor
	breaker *breaker

	interval   time.Duration
	batchSize  uint64
	logger     *slog.Logger
	observeLag func(uint64)
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithInterval sets how often Run polls the ledger head.
func WithInterval(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.batchSize = uint64(n)
		}
	}
}

// WithBreaker opens the circuit after threshold consecutive publish failures
// and keeps it open for cooldown.
func WithBreaker(threshold int, cooldown time.Duration, now func() time.Time) Option {
	return func(e *Exporter) {
		e.breaker = newBreaker(threshold, cooldown, now)
	}
}

// WithLagObserver receives the number of committed records not yet
// delivered after every pass.
func WithLagObserver(fn func(uint64)) Option {
	return func(e *Exporter) {
		e.observeLag = fn
	}
}

func New(source Source, sink Sink, cursor Cursor, opts ...Option) (*Exporter, error) {
	if source == nil {
		return nil, fmt.Errorf("ledger source is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cursor == nil {
		cursor = NewMemoryCursor()
	}
	e := &Exporter{
		source:    source,
		sink:      sink,
		cursor:    cursor,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = newBreaker(0, 0, nil)
	}
	return e, nil
}

// Run exports until ctx is done. Sink failures are logged and retried on the
// next tick; they never stop the loop.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		if _, err := e.Sync(ctx); err != nil && ctx.Err() == nil {
			e.logger.WarnContext(ctx, "ledger export pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ErrCircuitOpen is returned by Sync while the sink is considered down.
var ErrCircuitOpen = errors.New("export circuit open")

// Sync publishes everything between the cursor and the current head and
// returns the number of records delivered.
func (e *Exporter) Sync(ctx context.Context) (int, error) {
	if !e.breaker.allow() {
		return 0, ErrCircuitOpen
	}
	from, err := e.cursor.Load(ctx)
	if err != nil {
		return 0, err
	}
	head := e.source.Head(ctx).SequenceNo
	if from > head {
		e.logger.WarnContext(ctx, "ledger export cursor is ahead of the head",
			"cursor", from,
			"head", head,
		)
	}
	if e.observeLag != nil {
		defer func() {
			var lag uint64
			if head > from {
				lag = head - from
			}
			e.observeLag(lag)
		}()
	}

	delivered := 0
	for from < head {
		to := from + e.batchSize
		if to > head {
			to = head
		}
		records, err := e.source.Records(ctx, from+1, to)
		if err != nil {
			return delivered, fmt.Errorf("read records %d..%d: %w", from+1, to, err)
		}
		if len(records) == 0 {
			return delivered, fmt.Errorf("no records in %d..%d", from+1, to)
		}
		if err := e.sink.Publish(ctx, records); err != nil {
			if e.breaker.failure() {
				e.logger.ErrorContext(ctx, "ledger export circuit opened",
					"cursor", from,
					"error", err,
				)
			}
			return delivered, err
		}
		e.breaker.success()
		last := records[len(records)-1].SequenceNo()
		if err := e.cursor.Store(ctx, last); err != nil {
			return delivered, err
		}
		delivered += len(records)
		from = last
	}
	if delivered > 0 {
		e.logger.DebugContext(ctx, "ledger records exported",
			"count", delivered,
			"cursor", from,
		)
	}
	return delivered, nil
}
