package badger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
	platformbadger "afterimage/internal/platform/badger"
	"afterimage/pkg/platform/sentinel"
)

// =============================================================================
// Badger Ledger Store Test Suite
// =============================================================================
// Justification for unit tests: the embedded store is the durable default.
// Records must survive a close and reopen bit-for-bit so the chain verifies.

type BadgerStoreSuite struct {
	suite.Suite
	ctx    context.Context
	dir    string
	engine *gate.Engine
}

func TestBadgerStoreSuite(t *testing.T) {
	suite.Run(t, new(BadgerStoreSuite))
}

func (s *BadgerStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	catalog, err := gate.DefaultCatalog()
	s.Require().NoError(err)
	s.engine = gate.NewEngine(catalog)
}

func (s *BadgerStoreSuite) openDB() *platformbadger.DB {
	cfg := platformbadger.DefaultConfig()
	cfg.Path = s.dir
	cfg.GCInterval = 0
	db, err := platformbadger.Open(cfg)
	s.Require().NoError(err)
	return db
}

func (s *BadgerStoreSuite) openLedger(store ledger.Store) *ledger.Ledger {
	l, err := ledger.Open(s.ctx, store, s.engine,
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	return l
}

func request(actor string) ledger.AppendRequest {
	return ledger.AppendRequest{
		Scope:       scope.ActorScope{Actor: actor, Tier: scope.TierK10},
		PolicyClass: scope.PolicyCritical,
		Constants:   gate.Constants{M: 5, Psi: 2, R: 1, F0: 1},
		Environment: gate.Environment{TimeDensity: 0.3, SpatialDensity: 0.2, ContextRisk: 0.1},
		Versions:    gate.Versions{Weights: "phys-w1.0", Thresholds: "phys-t1.0"},
	}
}

func (s *BadgerStoreSuite) TestSurvivesRestart() {
	db := s.openDB()
	store := New(db)
	l := s.openLedger(store)

	var written []ledger.Snapshot
	for _, actor := range []string{"a", "b", "c", "d"} {
		rec, err := l.Append(s.ctx, request(actor))
		s.Require().NoError(err)
		written = append(written, rec.Snapshot())
	}
	head := l.Head(s.ctx)
	s.Require().NoError(l.Close())
	s.Require().NoError(db.Close())

	db = s.openDB()
	defer db.Close()
	reopened := s.openLedger(New(db))
	s.Equal(head, reopened.Head(s.ctx))

	records, err := reopened.Records(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(records, len(written))
	for i, rec := range records {
		s.Equal(written[i], rec.Snapshot())
	}

	res, err := reopened.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(res.Valid(), res.Reason)
}

func (s *BadgerStoreSuite) TestRangeAndConflicts() {
	db := s.openDB()
	defer db.Close()
	store := New(db)
	l := s.openLedger(store)
	for i := 0; i < 5; i++ {
		_, err := l.Append(s.ctx, request("a"))
		s.Require().NoError(err)
	}

	s.Run("bounded range", func() {
		got, err := store.Range(s.ctx, 2, 3)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(uint64(2), got[0].SequenceNo())
	})

	s.Run("open range", func() {
		got, err := store.Range(s.ctx, 4, 0)
		s.Require().NoError(err)
		s.Len(got, 2)
	})

	s.Run("existing sequence is rejected", func() {
		got, err := store.Range(s.ctx, 5, 5)
		s.Require().NoError(err)
		err = store.Append(s.ctx, got[0])
		s.True(errors.Is(err, sentinel.ErrConflict), "got %v", err)
	})
}
