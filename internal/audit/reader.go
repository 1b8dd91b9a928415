package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
)

var tracer = otel.Tracer("afterimage.audit")

const defaultPageSize = 500

// Ledger is the read side of the ledger that audits need.
type Ledger interface {
	EnsureVerified(ctx context.Context) (ledger.VerifyResult, error)
	Records(ctx context.Context, from, to uint64) ([]ledger.Record, error)
	Head(ctx context.Context) ledger.Head
}

// Reader answers audit queries over a verified ledger. Every query first
// extends verification to the current head; a broken chain is refused
// unless the caller acknowledges it.
type Reader struct {
	ledger   Ledger
	logger   *slog.Logger
	pageSize uint64
}

// Option configures a Reader.
type Option func(*Reader)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithPageSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.pageSize = uint64(n)
		}
	}
}

func NewReader(l Ledger, opts ...Option) (*Reader, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	r := &Reader{ledger: l, logger: slog.Default(), pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// QueryOption adjusts a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	acknowledgeBroken bool
}

// AcknowledgeBroken lets a query run against a broken chain. Records at or
// after the break come back with Verified=false.
func AcknowledgeBroken() QueryOption {
	return func(o *queryOptions) {
		o.acknowledgeBroken = true
	}
}

func (r *Reader) ByActor(ctx context.Context, actor string, opts ...QueryOption) ([]Entry, error) {
	return r.Query(ctx, Filter{Actor: actor}, opts...)
}

func (r *Reader) ByScope(ctx context.Context, s scope.ActorScope, opts ...QueryOption) ([]Entry, error) {
	return r.Query(ctx, Filter{Actor: s.Actor, Tier: s.Tier}, opts...)
}

func (r *Reader) ByGate(ctx context.Context, g gate.Gate, opts ...QueryOption) ([]Entry, error) {
	return r.Query(ctx, Filter{Gate: g}, opts...)
}

// InTimeRange returns records with since <= timestamp < until.
func (r *Reader) InTimeRange(ctx context.Context, since, until time.Time, opts ...QueryOption) ([]Entry, error) {
	return r.Query(ctx, Filter{Since: since, Until: until}, opts...)
}

// Query returns every record matching f in sequence order.
func (r *Reader) Query(ctx context.Context, f Filter, opts ...QueryOption) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "audit.query",
		trace.WithAttributes(
			attribute.String("actor", f.Actor),
			attribute.String("gate", string(f.Gate)),
		),
	)
	defer span.End()

	entries := []Entry{}
	err := r.scan(ctx, opts, func(e Entry) {
		if f.matches(e.Record) {
			entries = append(entries, e)
		}
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(entries)))
	return entries, nil
}

// Stats aggregates the records matching f.
func (r *Reader) Stats(ctx context.Context, f Filter, opts ...QueryOption) (Stats, error) {
	ctx, span := tracer.Start(ctx, "audit.stats")
	defer span.End()

	stats := Stats{ByGate: make(map[gate.Gate]int, len(gate.Gates))}
	for _, g := range gate.Gates {
		stats.ByGate[g] = 0
	}
	var scoreSum float64
	var cooldownSum time.Duration
	err := r.scan(ctx, opts, func(e Entry) {
		if !f.matches(e.Record) {
			return
		}
		stats.Total++
		stats.ByGate[e.Record.Gate()]++
		scoreSum += e.Record.Score()
		cooldownSum += e.Record.Cooldown()
		if !e.Verified {
			stats.Unverified++
		}
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, err
	}
	if stats.Total > 0 {
		stats.MeanScore = scoreSum / float64(stats.Total)
		stats.MeanCooldown = cooldownSum / time.Duration(stats.Total)
	}
	return stats, nil
}

// scan verifies the chain and visits every readable record in order.
func (r *Reader) scan(ctx context.Context, opts []QueryOption, visit func(Entry)) error {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	integrity, err := r.ledger.EnsureVerified(ctx)
	if err != nil {
		return err
	}
	to := integrity.To
	if !integrity.Valid() {
		if !o.acknowledgeBroken {
			return dErrors.New(dErrors.CodeIntegrity,
				fmt.Sprintf("ledger chain broken at sequence %d: %s", integrity.BrokenAt, integrity.Reason))
		}
		r.logger.WarnContext(ctx, "audit query over broken chain acknowledged",
			"broken_at", integrity.BrokenAt,
			"reason", integrity.Reason,
		)
		to = r.ledger.Head(ctx).SequenceNo
	}

	for from := uint64(1); from <= to; from += r.pageSize {
		end := from + r.pageSize - 1
		if end > to {
			end = to
		}
		page, err := r.ledger.Records(ctx, from, end)
		if err != nil {
			return err
		}
		for _, rec := range page {
			verified := integrity.Valid() || rec.SequenceNo() < integrity.BrokenAt
			visit(Entry{Record: rec, Verified: verified})
		}
	}
	return nil
}
