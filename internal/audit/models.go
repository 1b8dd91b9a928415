package audit

import (
	"time"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
)

// Entry is a ledger record as seen by an auditor. Verified is false for
// records at or after a detected chain break; those are only returned when
// the caller acknowledged the break.
type Entry struct {
	Record   ledger.Record
	Verified bool
}

// Filter selects records. Zero values match everything. Since is inclusive
// and Until exclusive.
type Filter struct {
	Actor string
	Tier  scope.Tier
	Gate  gate.Gate
	Since time.Time
	Until time.Time
}

func (f Filter) matches(r ledger.Record) bool {
	if f.Actor != "" && r.Actor() != f.Actor {
		return false
	}
	if f.Tier != "" && r.Tier() != f.Tier {
		return false
	}
	if f.Gate != "" && r.Gate() != f.Gate {
		return false
	}
	ts := r.Timestamp()
	if !f.Since.IsZero() && ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ts.Before(f.Until) {
		return false
	}
	return true
}

// Stats aggregates a filtered set of records.
type Stats struct {
	Total        int               `json:"total"`
	ByGate       map[gate.Gate]int `json:"by_gate"`
	MeanScore    float64           `json:"mean_score"`
	MeanCooldown time.Duration     `json:"-"`
	Unverified   int               `json:"unverified"`
}

// Mismatch is one field that no longer reproduces on replay.
type Mismatch struct {
	SequenceNo uint64 `json:"sequence_no"`
	Field      string `json:"field"`
	Persisted  string `json:"persisted"`
	Recomputed string `json:"recomputed"`
}

// ReplayReport summarizes a replay over a sequence range.
type ReplayReport struct {
	From       uint64     `json:"from"`
	To         uint64     `json:"to"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (r ReplayReport) Consistent() bool {
	return len(r.Mismatches) == 0
}
