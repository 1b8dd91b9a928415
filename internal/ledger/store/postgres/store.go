package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store implements ledger.Store on PostgreSQL. The table rejects UPDATE and
// DELETE through a trigger, and unique hash columns stop a forked chain from
// being persisted by a second writer.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL ledger store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the ledger table and its append-only trigger.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Append inserts r only when it directly follows the current last record.
func (s *Store) Append(ctx context.Context, r ledger.Record) error {
	c := r.Content()
	content, previous := r.ContentHash(), r.PreviousHash()
	query := `
		INSERT INTO ledger_records (
			sequence_no, content_hash, previous_hash, schema_version, recorded_at,
			actor, tier, policy_class,
			m, psi, r, f0, time_density, spatial_density, context_risk,
			weights_version, thresholds_version, score, gate_result, cooldown_ms
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		WHERE $1 = (SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM ledger_records)
	`
	res, err := s.db.ExecContext(ctx, query,
		int64(r.SequenceNo()),
		content[:],
		previous[:],
		int16(r.SchemaVersion()),
		c.Timestamp,
		c.Scope.Actor,
		string(c.Scope.Tier),
		string(c.PolicyClass),
		c.Constants.M,
		c.Constants.Psi,
		c.Constants.R,
		c.Constants.F0,
		c.Environment.TimeDensity,
		c.Environment.SpatialDensity,
		c.Environment.ContextRisk,
		c.Versions.Weights,
		c.Versions.Thresholds,
		c.Score,
		string(c.Gate),
		c.Cooldown.Milliseconds(),
	)
	if err != nil {
		return classify("insert ledger record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("insert ledger record", err)
	}
	if n == 0 {
		return fmt.Errorf("insert ledger record %d: not the next sequence: %w", r.SequenceNo(), sentinel.ErrConflict)
	}
	return nil
}

const selectColumns = `
	SELECT sequence_no, content_hash, previous_hash, schema_version, recorded_at,
		   actor, tier, policy_class,
		   m, psi, r, f0, time_density, spatial_density, context_risk,
		   weights_version, thresholds_version, score, gate_result, cooldown_ms
	FROM ledger_records
`

func (s *Store) Last(ctx context.Context) (ledger.Record, bool, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY sequence_no DESC LIMIT 1`)
	if err != nil {
		return ledger.Record{}, false, classify("query last ledger record", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return ledger.Record{}, false, err
	}
	if len(records) == 0 {
		return ledger.Record{}, false, nil
	}
	return records[0], true, nil
}

func (s *Store) Range(ctx context.Context, from, to uint64) ([]ledger.Record, error) {
	if from == 0 {
		from = 1
	}
	upper := int64(math.MaxInt64)
	if to != 0 && to < math.MaxInt64 {
		upper = int64(to)
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE sequence_no BETWEEN $1 AND $2 ORDER BY sequence_no ASC`,
		int64(from), upper,
	)
	if err != nil {
		return nil, classify("query ledger records", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]ledger.Record, error) {
	records := []ledger.Record{}
	for rows.Next() {
		var (
			snap         ledger.Snapshot
			seq          int64
			schemaVer    int16
			contentHash  []byte
			previousHash []byte
			recordedAt   time.Time
		)
		err := rows.Scan(
			&seq, &contentHash, &previousHash, &schemaVer, &recordedAt,
			&snap.Actor, &snap.Tier, &snap.PolicyClass,
			&snap.Constants.M, &snap.Constants.Psi, &snap.Constants.R, &snap.Constants.F0,
			&snap.Environment.TimeDensity, &snap.Environment.SpatialDensity, &snap.Environment.ContextRisk,
			&snap.WeightsVersion, &snap.ThresholdsVersion, &snap.Score, &snap.GateResult, &snap.CooldownMillis,
		)
		if err != nil {
			return nil, classify("scan ledger record", err)
		}
		rec, err := decode(seq, schemaVer, contentHash, previousHash, recordedAt, snap)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate ledger records", err)
	}
	return records, nil
}

func decode(seq int64, schemaVer int16, contentHash, previousHash []byte, recordedAt time.Time, snap ledger.Snapshot) (ledger.Record, error) {
	snap.SequenceNo = uint64(seq)
	snap.SchemaVersion = uint16(schemaVer)
	snap.Timestamp = recordedAt.UTC()

	content, err := ledger.DigestFromBytes(contentHash)
	if err != nil {
		return ledger.Record{}, &ledger.CorruptRecordError{SequenceNo: snap.SequenceNo, Err: err}
	}
	previous, err := ledger.DigestFromBytes(previousHash)
	if err != nil {
		return ledger.Record{}, &ledger.CorruptRecordError{SequenceNo: snap.SequenceNo, Err: err}
	}
	snap.ContentHash = content.String()
	snap.PreviousHash = previous.String()

	if _, err := gate.ParseGate(snap.GateResult); err != nil {
		return ledger.Record{}, &ledger.CorruptRecordError{SequenceNo: snap.SequenceNo, Err: err}
	}
	rec, err := ledger.FromSnapshot(snap)
	if err != nil {
		return ledger.Record{}, &ledger.CorruptRecordError{SequenceNo: snap.SequenceNo, Err: err}
	}
	return rec, nil
}

// classify maps driver errors onto sentinel facts. Cancellation passes
// through untouched.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, sentinel.ErrConflict, pqErr.Message)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
