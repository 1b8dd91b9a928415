package ledger

import (
	"encoding/hex"
	"fmt"
	"time"

	"afterimage/internal/gate"
	"afterimage/internal/scope"
)

// Digest is a 32-byte content hash.
type Digest [32]byte

// GenesisHash is the previous_hash of the first record in every ledger.
var GenesisHash = Digest{}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a lowercase or uppercase hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// DigestFromBytes copies a raw 32-byte digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Content is the hashed payload of a record: everything except the sequence
// number and the two hashes.
type Content struct {
	Scope       scope.ActorScope
	PolicyClass scope.PolicyClass
	Constants   gate.Constants
	Environment gate.Environment
	Versions    gate.Versions
	Score       float64
	Gate        gate.Gate
	Cooldown    time.Duration
	Timestamp   time.Time
}

// Record is one committed ledger entry. Fields are unexported and every accessor
// returns a copy; there is no way to modify a record once it exists.
type Record struct {
	sequenceNo    uint64
	contentHash   Digest
	previousHash  Digest
	schemaVersion uint16
	content       Content
}

func (r Record) SequenceNo() uint64 {
	return r.sequenceNo
}

func (r Record) ContentHash() Digest {
	return r.contentHash
}

func (r Record) PreviousHash() Digest {
	return r.previousHash
}

func (r Record) SchemaVersion() uint16 {
	return r.schemaVersion
}

func (r Record) Content() Content {
	return r.content
}

func (r Record) Timestamp() time.Time {
	return r.content.Timestamp
}

func (r Record) Scope() scope.ActorScope {
	return r.content.Scope
}

func (r Record) Actor() string {
	return r.content.Scope.Actor
}

func (r Record) Tier() scope.Tier {
	return r.content.Scope.Tier
}

func (r Record) PolicyClass() scope.PolicyClass {
	return r.content.PolicyClass
}

func (r Record) Constants() gate.Constants {
	return r.content.Constants
}

func (r Record) Environment() gate.Environment {
	return r.content.Environment
}

func (r Record) Versions() gate.Versions {
	return r.content.Versions
}

func (r Record) Score() float64 {
	return r.content.Score
}

func (r Record) Gate() gate.Gate {
	return r.content.Gate
}

func (r Record) Cooldown() time.Duration {
	return r.content.Cooldown
}

// Snapshot is the persisted and exported layout of a record. Field names are
// part of the external contract; schema_version pins their meaning.
type Snapshot struct {
	SequenceNo        uint64           `json:"sequence_no"`
	ContentHash       string           `json:"content_hash"`
	PreviousHash      string           `json:"previous_hash"`
	Timestamp         time.Time        `json:"timestamp"`
	Actor             string           `json:"actor"`
	Tier              string           `json:"tier"`
	PolicyClass       string           `json:"policy_class"`
	Constants         gate.Constants   `json:"constants"`
	Environment       gate.Environment `json:"environment"`
	WeightsVersion    string           `json:"weights_version"`
	ThresholdsVersion string           `json:"thresholds_version"`
	Score             float64          `json:"score"`
	GateResult        string           `json:"gate_result"`
	CooldownMillis    int64            `json:"cooldown_ms"`
	SchemaVersion     uint16           `json:"schema_version"`
}

// Snapshot returns a detached copy of the record in its persisted layout.
func (r Record) Snapshot() Snapshot {
	c := r.content
	return Snapshot{
		SequenceNo:        r.sequenceNo,
		ContentHash:       r.contentHash.String(),
		PreviousHash:      r.previousHash.String(),
		Timestamp:         c.Timestamp,
		Actor:             c.Scope.Actor,
		Tier:              string(c.Scope.Tier),
		PolicyClass:       string(c.PolicyClass),
		Constants:         c.Constants,
		Environment:       c.Environment,
		WeightsVersion:    c.Versions.Weights,
		ThresholdsVersion: c.Versions.Thresholds,
		Score:             c.Score,
		GateResult:        string(c.Gate),
		CooldownMillis:    c.Cooldown.Milliseconds(),
		SchemaVersion:     r.schemaVersion,
	}
}

// FromSnapshot rebuilds a record read back from storage. It does not check
// integrity; Verify does. Only malformed hashes are rejected here.
func FromSnapshot(s Snapshot) (Record, error) {
	contentHash, err := ParseDigest(s.ContentHash)
	if err != nil {
		return Record{}, fmt.Errorf("record %d content_hash: %w", s.SequenceNo, err)
	}
	previousHash, err := ParseDigest(s.PreviousHash)
	if err != nil {
		return Record{}, fmt.Errorf("record %d previous_hash: %w", s.SequenceNo, err)
	}
	return Record{
		sequenceNo:    s.SequenceNo,
		contentHash:   contentHash,
		previousHash:  previousHash,
		schemaVersion: s.SchemaVersion,
		content: Content{
			Scope:       scope.ActorScope{Actor: s.Actor, Tier: scope.Tier(s.Tier)},
			PolicyClass: scope.PolicyClass(s.PolicyClass),
			Constants:   s.Constants,
			Environment: s.Environment,
			Versions:    gate.Versions{Weights: s.WeightsVersion, Thresholds: s.ThresholdsVersion},
			Score:       s.Score,
			Gate:        gate.Gate(s.GateResult),
			Cooldown:    time.Duration(s.CooldownMillis) * time.Millisecond,
			Timestamp:   s.Timestamp.UTC(),
		},
	}, nil
}
