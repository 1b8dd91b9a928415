package ledger

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the outcome of a chain verification.
type Status string

const (
	StatusValid  Status = "VALID"
	StatusBroken Status = "BROKEN"
)

// VerifyResult reports a verification pass over from..to. BrokenAt and
// Reason are set only for StatusBroken.
type VerifyResult struct {
	Status     Status    `json:"status"`
	From       uint64    `json:"from"`
	To         uint64    `json:"to"`
	Checked    uint64    `json:"checked"`
	BrokenAt   uint64    `json:"broken_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	HeadHash   string    `json:"head_hash"`
	VerifiedAt time.Time `json:"verified_at"`
}

func (r VerifyResult) Valid() bool {
	return r.Status == StatusValid
}

// CorruptRecordError is returned by stores when a persisted row cannot be
// decoded into a record at all. Verification reports it as a break.
type CorruptRecordError struct {
	SequenceNo uint64
	Err        error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %d: %v", e.SequenceNo, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// Verify recomputes every hash in from..to, checks each previous_hash link
// and that sequence numbers are contiguous. from == 0 means 1; to == 0 or a
// value past the head means the current head. A range starting past the head
// is empty and valid. Verification is read-only.
//
// A chain defect is a Broken result, not an error. Errors are reserved for
// the store being unreachable.
func (l *Ledger) Verify(ctx context.Context, from, to uint64) (VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.verify")
	defer span.End()

	head := *l.head.Load()
	if from == 0 {
		from = 1
	}
	if to == 0 || to > head.SequenceNo {
		to = head.SequenceNo
	}
	span.SetAttributes(attribute.Int64("from", int64(from)), attribute.Int64("to", int64(to)))
	if from > to {
		return VerifyResult{
			Status:     StatusValid,
			From:       from,
			To:         to,
			HeadHash:   head.Hash.String(),
			VerifiedAt: time.Now().UTC(),
		}, nil
	}

	prev := GenesisHash
	if from > 1 {
		before, err := l.store.Range(ctx, from-1, from-1)
		if err != nil {
			var corrupt *CorruptRecordError
			if errors.As(err, &corrupt) {
				res := l.brokenResult(from, to, 0, corrupt.SequenceNo, corrupt.Error())
				l.record(ctx, res, time.Now())
				return res, nil
			}
			span.SetStatus(codes.Error, err.Error())
			return VerifyResult{}, mapStoreError(err, "read verification anchor")
		}
		if len(before) != 1 {
			res := l.brokenResult(from, to, 0, from-1, "missing record")
			l.record(ctx, res, time.Now())
			return res, nil
		}
		prev = before[0].contentHash
	}

	res, err := l.walk(ctx, from, to, prev, head)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return VerifyResult{}, err
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	if res.Valid() && from == 1 && to == head.SequenceNo {
		l.verifyMu.Lock()
		if head.SequenceNo > l.verifiedThrough.SequenceNo {
			l.verifiedThrough = head
		}
		l.verifyMu.Unlock()
	}
	return res, nil
}

// EnsureVerified extends the last fully verified prefix up to the current
// head and returns the ledger's integrity. Once a break has been observed it
// is returned without touching the store again.
func (l *Ledger) EnsureVerified(ctx context.Context) (VerifyResult, error) {
	l.verifyMu.Lock()
	defer l.verifyMu.Unlock()
	if l.broken != nil {
		return *l.broken, nil
	}

	head := *l.head.Load()
	through := l.verifiedThrough
	if through.SequenceNo >= head.SequenceNo && l.lastResult != nil {
		return VerifyResult{
			Status:     StatusValid,
			From:       1,
			To:         through.SequenceNo,
			HeadHash:   through.Hash.String(),
			VerifiedAt: l.lastResult.VerifiedAt,
		}, nil
	}
	from := through.SequenceNo + 1
	prev := through.Hash
	if through.SequenceNo == 0 {
		prev = GenesisHash
	}

	ctx, span := tracer.Start(ctx, "ledger.ensure_verified",
		trace.WithAttributes(attribute.Int64("from", int64(from)), attribute.Int64("to", int64(head.SequenceNo))),
	)
	defer span.End()

	res, err := l.walkLocked(ctx, from, head.SequenceNo, prev, head)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return VerifyResult{}, err
	}
	if res.Valid() {
		l.verifiedThrough = head
		res.From = 1
	}
	return res, nil
}

// Integrity returns the retained verification state. A break, once seen, is
// reported until the process restarts. ok is false before any verification.
func (l *Ledger) Integrity() (VerifyResult, bool) {
	l.verifyMu.Lock()
	defer l.verifyMu.Unlock()
	if l.broken != nil {
		return *l.broken, true
	}
	if l.lastResult == nil {
		return VerifyResult{}, false
	}
	return *l.lastResult, true
}

func (l *Ledger) walk(ctx context.Context, from, to uint64, prev Digest, head Head) (VerifyResult, error) {
	l.verifyMu.Lock()
	defer l.verifyMu.Unlock()
	return l.walkLocked(ctx, from, to, prev, head)
}

// walkLocked pages through from..to. Must hold verifyMu.
func (l *Ledger) walkLocked(ctx context.Context, from, to uint64, prev Digest, head Head) (VerifyResult, error) {
	start := time.Now()
	expected := from
	var checked uint64

	for expected <= to {
		end := expected + uint64(l.pageSize) - 1
		if end > to {
			end = to
		}
		page, err := l.store.Range(ctx, expected, end)
		if err != nil {
			var corrupt *CorruptRecordError
			if errors.As(err, &corrupt) {
				res := l.brokenResult(from, to, checked, corrupt.SequenceNo, corrupt.Error())
				l.recordLocked(ctx, res, start)
				return res, nil
			}
			return VerifyResult{}, mapStoreError(err, "read records for verification")
		}
		if len(page) == 0 {
			res := l.brokenResult(from, to, checked, expected, "missing record")
			l.recordLocked(ctx, res, start)
			return res, nil
		}
		for _, rec := range page {
			if reason := l.check(rec, expected, prev); reason != "" {
				res := l.brokenResult(from, to, checked, expected, reason)
				l.recordLocked(ctx, res, start)
				return res, nil
			}
			prev = rec.contentHash
			expected++
			checked++
		}
	}

	// The store must end where the writer left the head.
	if to == head.SequenceNo && subtle.ConstantTimeCompare(prev[:], head.Hash[:]) != 1 {
		res := l.brokenResult(from, to, checked, to, "head hash mismatch")
		l.recordLocked(ctx, res, start)
		return res, nil
	}

	res := VerifyResult{
		Status:     StatusValid,
		From:       from,
		To:         to,
		Checked:    checked,
		HeadHash:   prev.String(),
		VerifiedAt: time.Now().UTC(),
	}
	l.recordLocked(ctx, res, start)
	return res, nil
}

// check returns a non-empty reason when rec does not belong at position
// expected after a record hashing to prev.
func (l *Ledger) check(rec Record, expected uint64, prev Digest) string {
	if rec.sequenceNo != expected {
		return fmt.Sprintf("sequence gap: expected %d, found %d", expected, rec.sequenceNo)
	}
	if !SupportedSchema(rec.schemaVersion) {
		return fmt.Sprintf("unsupported schema version %d", rec.schemaVersion)
	}
	if subtle.ConstantTimeCompare(rec.previousHash[:], prev[:]) != 1 {
		return "previous_hash does not match the preceding record"
	}
	ok, err := l.hasher.Matches(rec)
	if err != nil {
		return err.Error()
	}
	if !ok {
		return "content_hash mismatch"
	}
	return ""
}

func (l *Ledger) brokenResult(from, to, checked, at uint64, reason string) VerifyResult {
	return VerifyResult{
		Status:     StatusBroken,
		From:       from,
		To:         to,
		Checked:    checked,
		BrokenAt:   at,
		Reason:     reason,
		VerifiedAt: time.Now().UTC(),
	}
}

func (l *Ledger) record(ctx context.Context, res VerifyResult, start time.Time) {
	l.verifyMu.Lock()
	defer l.verifyMu.Unlock()
	l.recordLocked(ctx, res, start)
}

func (l *Ledger) recordLocked(ctx context.Context, res VerifyResult, start time.Time) {
	l.metrics.RecordVerification(string(res.Status), res.Valid(), time.Since(start))
	if res.Valid() {
		l.lastResult = &res
		l.logger.DebugContext(ctx, "ledger chain verified",
			"from", res.From,
			"to", res.To,
			"checked", res.Checked,
		)
		return
	}
	if l.broken == nil || res.BrokenAt < l.broken.BrokenAt {
		l.broken = &res
	}
	l.lastResult = &res
	l.logger.ErrorContext(ctx, "CRITICAL: ledger chain broken",
		"broken_at", res.BrokenAt,
		"reason", res.Reason,
	)
}
