package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/ledger/store/memory"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
)

// =============================================================================
// Audit Reader Test Suite
// =============================================================================
// Justification for unit tests: auditors must never be handed records from a
// broken chain without saying so. The refusal and Verified flagging are only
// observable against a ledger whose storage has been tampered with.

type ReaderSuite struct {
	suite.Suite
	ctx    context.Context
	engine *gate.Engine
	store  *tamperableStore
	ledger *ledger.Ledger
	reader *Reader
	now    time.Time
}

func TestReaderSuite(t *testing.T) {
	suite.Run(t, new(ReaderSuite))
}

func (s *ReaderSuite) SetupTest() {
	s.ctx = context.Background()
	catalog, err := gate.DefaultCatalog()
	s.Require().NoError(err)
	s.engine = gate.NewEngine(catalog)
	s.store = &tamperableStore{InMemoryStore: memory.NewInMemoryStore()}
	s.now = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ledger, err = ledger.Open(s.ctx, s.store, s.engine,
		ledger.WithLogger(logger),
		ledger.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.reader, err = NewReader(s.ledger, WithLogger(logger), WithPageSize(2))
	s.Require().NoError(err)
}

func (s *ReaderSuite) append(actor string, tier scope.Tier, m float64) ledger.Record {
	rec, err := s.ledger.Append(s.ctx, ledger.AppendRequest{
		Scope:       scope.ActorScope{Actor: actor, Tier: tier},
		PolicyClass: scope.PolicyRoutine,
		Constants:   gate.Constants{M: m, Psi: 2, R: 1, F0: 1},
		Environment: gate.Environment{TimeDensity: 0.3, SpatialDensity: 0.2, ContextRisk: 0.1},
		Versions:    gate.Versions{Weights: "phys-w1.0", Thresholds: "phys-t1.0"},
	})
	s.Require().NoError(err)
	s.now = s.now.Add(time.Minute)
	return rec
}

// seed writes five records:
//
//	1 alice K2  PASS
//	2 bob   K6  RING
//	3 alice K2  BOUNCE
//	4 carol K10 LOCK
//	5 alice K6  RING
func (s *ReaderSuite) seed() {
	s.append("alice", scope.TierK2, 0)
	s.append("bob", scope.TierK6, 5)
	s.append("alice", scope.TierK2, 12)
	s.append("carol", scope.TierK10, 25)
	s.append("alice", scope.TierK6, 5)
}

func sequences(entries []Entry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record.SequenceNo())
	}
	return out
}

func (s *ReaderSuite) TestQueries() {
	s.seed()

	s.Run("seeded gates", func() {
		got := []gate.Gate{}
		entries, err := s.reader.Query(s.ctx, Filter{})
		s.Require().NoError(err)
		for _, e := range entries {
			got = append(got, e.Record.Gate())
			s.True(e.Verified)
		}
		want := []gate.Gate{gate.GatePass, gate.GateRing, gate.GateBounce, gate.GateLock, gate.GateRing}
		s.Empty(cmp.Diff(want, got))
	})

	s.Run("by actor", func() {
		entries, err := s.reader.ByActor(s.ctx, "alice")
		s.Require().NoError(err)
		s.Equal([]uint64{1, 3, 5}, sequences(entries))
	})

	s.Run("by scope", func() {
		entries, err := s.reader.ByScope(s.ctx, scope.ActorScope{Actor: "alice", Tier: scope.TierK6})
		s.Require().NoError(err)
		s.Equal([]uint64{5}, sequences(entries))
	})

	s.Run("by gate", func() {
		entries, err := s.reader.ByGate(s.ctx, gate.GateRing)
		s.Require().NoError(err)
		s.Equal([]uint64{2, 5}, sequences(entries))
	})

	s.Run("time range is closed-open", func() {
		start := time.Date(2026, 5, 1, 8, 1, 0, 0, time.UTC)
		entries, err := s.reader.InTimeRange(s.ctx, start, start.Add(2*time.Minute))
		s.Require().NoError(err)
		s.Equal([]uint64{2, 3}, sequences(entries))
	})

	s.Run("unknown actor is empty, not an error", func() {
		entries, err := s.reader.ByActor(s.ctx, "mallory")
		s.Require().NoError(err)
		s.Empty(entries)
	})
}

func (s *ReaderSuite) TestStats() {
	s.seed()

	stats, err := s.reader.Stats(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Equal(5, stats.Total)
	s.Equal(map[gate.Gate]int{
		gate.GatePass:   1,
		gate.GateRing:   2,
		gate.GateBounce: 1,
		gate.GateLock:   1,
	}, stats.ByGate)

	records, err := s.ledger.Records(s.ctx, 0, 0)
	s.Require().NoError(err)
	var sum float64
	var cooldown time.Duration
	for _, r := range records {
		sum += r.Score()
		cooldown += r.Cooldown()
	}
	s.InDelta(sum/5, stats.MeanScore, 1e-9)
	s.Equal(cooldown/5, stats.MeanCooldown)
	s.Zero(stats.Unverified)

	s.Run("empty selection", func() {
		stats, err := s.reader.Stats(s.ctx, Filter{Actor: "nobody"})
		s.Require().NoError(err)
		s.Zero(stats.Total)
		s.Zero(stats.MeanScore)
	})
}

func (s *ReaderSuite) TestBrokenChain() {
	s.seed()
	s.store.tamper(3, func(sn *ledger.Snapshot) { sn.GateResult = string(gate.GatePass) })

	s.Run("refused without acknowledgement", func() {
		_, err := s.reader.ByActor(s.ctx, "alice")
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrity), "got %v", err)
		s.Contains(err.Error(), "sequence 3")

		_, err = s.reader.Stats(s.ctx, Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	})

	s.Run("acknowledged queries flag records from the break on", func() {
		entries, err := s.reader.Query(s.ctx, Filter{}, AcknowledgeBroken())
		s.Require().NoError(err)
		s.Require().Len(entries, 5)
		for _, e := range entries {
			s.Equal(e.Record.SequenceNo() < 3, e.Verified, "sequence %d", e.Record.SequenceNo())
		}

		stats, err := s.reader.Stats(s.ctx, Filter{}, AcknowledgeBroken())
		s.Require().NoError(err)
		s.Equal(3, stats.Unverified)
	})

	s.Run("break stays visible after more appends", func() {
		s.append("dave", scope.TierK2, 0)
		_, err := s.reader.ByActor(s.ctx, "dave")
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	})
}

func (s *ReaderSuite) TestVerifiesNewRecordsIncrementally() {
	s.seed()
	_, err := s.reader.ByActor(s.ctx, "alice")
	s.Require().NoError(err)

	s.append("erin", scope.TierK2, 0)
	entries, err := s.reader.ByActor(s.ctx, "erin")
	s.Require().NoError(err)
	s.Equal([]uint64{6}, sequences(entries))
}

// tamperableStore rewrites one record on the read path, standing in for an
// edit made directly against the backing database.
type tamperableStore struct {
	*memory.InMemoryStore
	target uint64
	mutate func(*ledger.Snapshot)
}

func (t *tamperableStore) tamper(seq uint64, mutate func(*ledger.Snapshot)) {
	t.target = seq
	t.mutate = mutate
}

func (t *tamperableStore) Range(ctx context.Context, from, to uint64) ([]ledger.Record, error) {
	records, err := t.InMemoryStore.Range(ctx, from, to)
	if err != nil || t.mutate == nil {
		return records, err
	}
	for i, rec := range records {
		if rec.SequenceNo() != t.target {
			continue
		}
		snap := rec.Snapshot()
		t.mutate(&snap)
		records[i], err = ledger.FromSnapshot(snap)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}
