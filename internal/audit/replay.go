package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
)

// Evaluator recomputes a decision from its inputs. *gate.Engine implements it.
type Evaluator interface {
	Evaluate(c gate.Constants, env gate.Environment, v gate.Versions) (gate.Outcome, error)
}

// RecordSource is anything that can enumerate committed records.
type RecordSource interface {
	Records(ctx context.Context, from, to uint64) ([]ledger.Record, error)
}

// Replayer recomputes score, gate and cooldown from persisted inputs and the
// pinned table versions, and reports anything that no longer reproduces.
type Replayer struct {
	source    RecordSource
	evaluator Evaluator
	logger    *slog.Logger
}

func NewReplayer(source RecordSource, evaluator Evaluator, logger *slog.Logger) (*Replayer, error) {
	if source == nil {
		return nil, fmt.Errorf("record source is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{source: source, evaluator: evaluator, logger: logger}, nil
}

// Replay checks records from..to (to == 0 means the head). Scores are
// compared bit for bit.
func (p *Replayer) Replay(ctx context.Context, from, to uint64) (ReplayReport, error) {
	ctx, span := tracer.Start(ctx, "audit.replay")
	defer span.End()

	records, err := p.source.Records(ctx, from, to)
	if err != nil {
		return ReplayReport{}, err
	}
	report := ReplayReport{From: from, To: to, Mismatches: []Mismatch{}}
	if len(records) > 0 {
		report.From = records[0].SequenceNo()
		report.To = records[len(records)-1].SequenceNo()
	}
	for _, rec := range records {
		report.Checked++
		report.Mismatches = append(report.Mismatches, p.replayOne(rec)...)
	}
	if !report.Consistent() {
		p.logger.WarnContext(ctx, "replay found mismatches",
			"from", report.From,
			"to", report.To,
			"mismatches", len(report.Mismatches),
		)
	}
	return report, nil
}

func (p *Replayer) replayOne(rec ledger.Record) []Mismatch {
	seq := rec.SequenceNo()
	out, err := p.evaluator.Evaluate(rec.Constants(), rec.Environment(), rec.Versions())
	if err != nil {
		return []Mismatch{{
			SequenceNo: seq,
			Field:      "evaluation",
			Persisted:  fmt.Sprintf("%s/%s", rec.Versions().Weights, rec.Versions().Thresholds),
			Recomputed: err.Error(),
		}}
	}
	var mismatches []Mismatch
	if math.Float64bits(out.Score) != math.Float64bits(rec.Score()) {
		mismatches = append(mismatches, Mismatch{
			SequenceNo: seq,
			Field:      "score",
			Persisted:  strconv.FormatFloat(rec.Score(), 'g', -1, 64),
			Recomputed: strconv.FormatFloat(out.Score, 'g', -1, 64),
		})
	}
	if out.Gate != rec.Gate() {
		mismatches = append(mismatches, Mismatch{
			SequenceNo: seq,
			Field:      "gate_result",
			Persisted:  string(rec.Gate()),
			Recomputed: string(out.Gate),
		})
	}
	if out.Cooldown.Milliseconds() != rec.Cooldown().Milliseconds() {
		mismatches = append(mismatches, Mismatch{
			SequenceNo: seq,
			Field:      "cooldown_ms",
			Persisted:  strconv.FormatInt(rec.Cooldown().Milliseconds(), 10),
			Recomputed: strconv.FormatInt(out.Cooldown.Milliseconds(), 10),
		})
	}
	return mismatches
}
