package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"afterimage/internal/gate"
	"afterimage/internal/ledger/metrics"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/platform/sentinel"
)

var tracer = otel.Tracer("afterimage.ledger")

const (
	defaultPageSize = 500
	resyncTimeout   = 5 * time.Second
)

// Evaluator scores and classifies a decision. *gate.Engine implements it.
type Evaluator interface {
	Evaluate(c gate.Constants, env gate.Environment, v gate.Versions) (gate.Outcome, error)
}

// AppendRequest carries everything the caller supplies for one governed
// decision. Score, gate, cooldown, sequence, hashes and timestamp are always
// computed by the ledger.
type AppendRequest struct {
	Scope       scope.ActorScope
	PolicyClass scope.PolicyClass
	Constants   gate.Constants
	Environment gate.Environment
	Versions    gate.Versions
}

// Head identifies the latest committed record. SequenceNo 0 means the ledger
// is empty and Hash is the genesis sentinel.
type Head struct {
	SequenceNo uint64
	Hash       Digest
}

func (h Head) IsEmpty() bool {
	return h.SequenceNo == 0
}

// Ledger is the single writer of an append-only hash chain. Appends are
// serialized by a writer lock that owns the head; reads go straight to the
// store and only ever see the committed prefix.
type Ledger struct {
	store     Store
	evaluator Evaluator
	hasher    Hasher

	// sem is the writer lock. A channel lets waiters give up on ctx.Done().
	sem    chan struct{}
	head   atomic.Pointer[Head]
	closed atomic.Bool

	clock         func() time.Time
	schemaVersion uint16
	pageSize      int

	logger  *slog.Logger
	metrics *metrics.Metrics

	verifyMu        sync.Mutex
	verifiedThrough Head
	lastResult      *VerifyResult
	broken          *VerifyResult
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects the timestamp source used inside the append critical section.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithSchemaVersion selects the hash schema for newly appended records.
// Existing records keep the schema they were written with.
func WithSchemaVersion(v uint16) Option {
	return func(l *Ledger) {
		l.schemaVersion = v
	}
}

// WithPageSize bounds how many records a verification pass reads at once.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// Open loads the head from the store and returns a ready ledger.
func Open(ctx context.Context, store Store, evaluator Evaluator, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("ledger evaluator is required")
	}
	l := &Ledger{
		store:         store,
		evaluator:     evaluator,
		sem:           make(chan struct{}, 1),
		clock:         time.Now,
		schemaVersion: DefaultSchemaVersion,
		pageSize:      defaultPageSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if !SupportedSchema(l.schemaVersion) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, l.schemaVersion)
	}

	head, err := l.loadHead(ctx)
	if err != nil {
		return nil, mapStoreError(err, "load ledger head")
	}
	l.head.Store(&head)
	l.metrics.SetHead(head.SequenceNo)
	l.logger.InfoContext(ctx, "ledger opened",
		"head_sequence_no", head.SequenceNo,
		"head_hash", head.Hash.String(),
		"schema_version", l.schemaVersion,
	)
	return l, nil
}

func (l *Ledger) loadHead(ctx context.Context) (Head, error) {
	last, ok, err := l.store.Last(ctx)
	if err != nil {
		return Head{}, err
	}
	if !ok {
		return Head{Hash: GenesisHash}, nil
	}
	return Head{SequenceNo: last.SequenceNo(), Hash: last.ContentHash()}, nil
}

// Append scores, classifies, and commits one decision as the new head.
//
// Nothing is written when the request is invalid, the scope is not
// authorized, the versions are unknown, or ctx is done before the commit.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (Record, error) {
	start := time.Now()
	defer func() { l.metrics.ObserveAppendLatency(time.Since(start)) }()

	ctx, span := tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("actor", req.Scope.Actor),
			attribute.String("tier", string(req.Scope.Tier)),
			attribute.String("policy_class", string(req.PolicyClass)),
		),
	)
	defer span.End()

	rec, outcome, err := l.append(ctx, req)
	l.metrics.IncrementAppend(outcome)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	span.SetAttributes(
		attribute.Int64("sequence_no", int64(rec.SequenceNo())),
		attribute.String("gate", string(rec.Gate())),
	)
	return rec, nil
}

func (l *Ledger) append(ctx context.Context, req AppendRequest) (Record, string, error) {
	if l.closed.Load() {
		return Record{}, "unavailable", dErrors.New(dErrors.CodeUnavailable, "ledger is closed")
	}
	if err := validateRequest(req); err != nil {
		return Record{}, "invalid", err
	}
	if err := scope.Authorize(req.Scope, req.PolicyClass); err != nil {
		l.logger.WarnContext(ctx, "ledger append denied",
			"actor", req.Scope.Actor,
			"tier", req.Scope.Tier,
			"policy_class", req.PolicyClass,
		)
		return Record{}, "forbidden", err
	}

	// Pure work happens before the lock.
	outcome, err := l.evaluator.Evaluate(req.Constants, req.Environment, req.Versions)
	if err != nil {
		return Record{}, "invalid", err
	}

	if err := ctx.Err(); err != nil {
		return Record{}, "cancelled", dErrors.Wrap(err, dErrors.CodeTimeout, "append cancelled before commit")
	}
	waitStart := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return Record{}, "cancelled", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "append cancelled waiting for writer lock")
	}
	defer func() { <-l.sem }()
	l.metrics.ObserveLockWait(time.Since(waitStart))

	if l.closed.Load() {
		return Record{}, "unavailable", dErrors.New(dErrors.CodeUnavailable, "ledger is closed")
	}
	if err := ctx.Err(); err != nil {
		return Record{}, "cancelled", dErrors.Wrap(err, dErrors.CodeTimeout, "append cancelled before commit")
	}

	head := *l.head.Load()
	content := Content{
		Scope:       req.Scope,
		PolicyClass: req.PolicyClass,
		Constants:   req.Constants,
		Environment: req.Environment,
		Versions:    req.Versions,
		Score:       outcome.Score,
		Gate:        outcome.Gate,
		Cooldown:    outcome.Cooldown,
		Timestamp:   l.now(),
	}
	hash, err := l.hasher.Hash(l.schemaVersion, head.Hash, content)
	if err != nil {
		return Record{}, "invalid", dErrors.Wrap(err, dErrors.CodeInternal, "hash record")
	}
	rec := Record{
		sequenceNo:    head.SequenceNo + 1,
		contentHash:   hash,
		previousHash:  head.Hash,
		schemaVersion: l.schemaVersion,
		content:       content,
	}

	if err := l.store.Append(ctx, rec); err != nil {
		l.logger.ErrorContext(ctx, "CRITICAL: ledger append failed",
			"sequence_no", rec.sequenceNo,
			"error", err,
		)
		l.resync(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Record{}, "cancelled", dErrors.Wrap(err, dErrors.CodeTimeout, "append cancelled before commit")
		}
		return Record{}, "unavailable", mapStoreError(err, "append record")
	}

	l.head.Store(&Head{SequenceNo: rec.sequenceNo, Hash: rec.contentHash})
	l.metrics.RecordCommit(string(rec.content.Gate), rec.sequenceNo)
	l.logger.InfoContext(ctx, "ledger record committed",
		"sequence_no", rec.sequenceNo,
		"actor", content.Scope.Actor,
		"policy_class", content.PolicyClass,
		"gate", content.Gate,
		"score", content.Score,
		"cooldown_ms", content.Cooldown.Milliseconds(),
	)
	return rec, "committed", nil
}

// resync reloads the head after a failed store write, so a write whose
// acknowledgement was lost is still chained correctly. Called with the
// writer lock held.
func (l *Ledger) resync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resyncTimeout)
	defer cancel()
	head, err := l.loadHead(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger head resync failed", "error", err)
		return
	}
	prev := l.head.Load()
	if prev.SequenceNo != head.SequenceNo || prev.Hash != head.Hash {
		l.logger.WarnContext(ctx, "ledger head moved during failed append",
			"previous_sequence_no", prev.SequenceNo,
			"sequence_no", head.SequenceNo,
		)
	}
	l.head.Store(&head)
	l.metrics.SetHead(head.SequenceNo)
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}

func validateRequest(req AppendRequest) error {
	if req.Scope.Actor == "" {
		return dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	if err := req.Constants.Validate(); err != nil {
		return err
	}
	if err := req.Environment.Validate(); err != nil {
		return err
	}
	return req.Versions.Validate()
}

// Head returns the latest committed record's position.
func (l *Ledger) Head(_ context.Context) Head {
	return *l.head.Load()
}

// Records returns committed records from..to inclusive. to == 0 or a value
// past the head means "through the current head".
func (l *Ledger) Records(ctx context.Context, from, to uint64) ([]Record, error) {
	if from == 0 {
		from = 1
	}
	head := l.head.Load()
	if to == 0 || to > head.SequenceNo {
		to = head.SequenceNo
	}
	if from > to {
		return []Record{}, nil
	}
	records, err := l.store.Range(ctx, from, to)
	if err != nil {
		return nil, mapStoreError(err, "read records")
	}
	return records, nil
}

// Close stops accepting appends, waits for an in-flight append to finish and
// flushes the store when it buffers writes.
func (l *Ledger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	if s, ok := l.store.(Syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync ledger store: %w", err)
		}
	}
	return nil
}

// mapStoreError translates infrastructure facts into domain errors.
func mapStoreError(err error, msg string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
