package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"afterimage/internal/audit"
	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/ledger/store/memory"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
)

// =============================================================================
// Audit Handler Test Suite
// =============================================================================
// Justification for unit tests: filter parsing and the explicit opt-in needed
// before records from a broken chain are served.

type AuditHandlerSuite struct {
	suite.Suite
	ctx    context.Context
	router chi.Router
}

func TestAuditHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuditHandlerSuite))
}

func (s *AuditHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	catalog, err := gate.DefaultCatalog()
	s.Require().NoError(err)
	engine := gate.NewEngine(catalog)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	l, err := ledger.Open(s.ctx, memory.NewInMemoryStore(), engine,
		ledger.WithLogger(logger),
		ledger.WithClock(func() time.Time { return now }),
	)
	s.Require().NoError(err)

	// PASS, RING, BOUNCE one minute apart.
	for i, m := range []float64{0, 5, 12} {
		now = time.Date(2026, 5, 1, 8, i, 0, 0, time.UTC)
		_, err := l.Append(s.ctx, ledger.AppendRequest{
			Scope:       scope.ActorScope{Actor: "alice", Tier: scope.TierK6},
			PolicyClass: scope.PolicyRoutine,
			Constants:   gate.Constants{M: m, Psi: 2, R: 1, F0: 1},
			Environment: gate.Environment{TimeDensity: 0.3, SpatialDensity: 0.2, ContextRisk: 0.1},
			Versions:    gate.Versions{Weights: "phys-w1.0", Thresholds: "phys-t1.0"},
		})
		s.Require().NoError(err)
	}

	reader, err := audit.NewReader(l, audit.WithLogger(logger))
	s.Require().NoError(err)
	replayer, err := audit.NewReplayer(l, engine, logger)
	s.Require().NoError(err)
	s.router = chi.NewRouter()
	h := New(reader, replayer, logger)
	h.Register(s.router)
	h.RegisterOperator(s.router)
}

func (s *AuditHandlerSuite) get(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (s *AuditHandlerSuite) TestRecords() {
	s.Run("gate filter", func() {
		w := s.get("/audit/records?gate=RING")
		s.Require().Equal(http.StatusOK, w.Code)
		var resp RecordsResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().Equal(1, resp.Count)
		s.Equal(uint64(2), resp.Records[0].SequenceNo)
		s.True(resp.Records[0].Verified)
	})

	s.Run("time range", func() {
		w := s.get("/audit/records?actor=alice&since=2026-05-01T08:01:00Z&until=2026-05-01T08:02:00Z")
		var resp RecordsResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().Equal(1, resp.Count)
		s.Equal("RING", resp.Records[0].GateResult)
	})

	s.Run("invalid filters", func() {
		for _, target := range []string{
			"/audit/records?gate=MAYBE",
			"/audit/records?tier=K3",
			"/audit/records?since=yesterday",
			"/audit/records?since=2999-01-01T00:00:00Z",
			"/audit/records?since=2026-05-02T00:00:00Z&until=2026-05-01T00:00:00Z",
			"/audit/records?ack_broken=perhaps",
		} {
			s.Equal(http.StatusBadRequest, s.get(target).Code, target)
		}
	})
}

func (s *AuditHandlerSuite) TestStats() {
	w := s.get("/audit/stats")
	s.Require().Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(float64(3), resp["total"])
	s.Equal(map[string]any{"PASS": float64(1), "RING": float64(1), "BOUNCE": float64(1), "LOCK": float64(0)}, resp["by_gate"])
}

func (s *AuditHandlerSuite) TestReplay() {
	w := s.get("/audit/replay")
	s.Require().Equal(http.StatusOK, w.Code)
	var report audit.ReplayReport
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &report))
	s.Equal(3, report.Checked)
	s.True(report.Consistent())
}

type brokenReader struct {
	acknowledged bool
}

func (b *brokenReader) Query(_ context.Context, _ audit.Filter, opts ...audit.QueryOption) ([]audit.Entry, error) {
	if len(opts) == 0 {
		return nil, dErrors.New(dErrors.CodeIntegrity, "ledger chain broken at sequence 2: content_hash mismatch")
	}
	b.acknowledged = true
	return []audit.Entry{}, nil
}

func (b *brokenReader) Stats(context.Context, audit.Filter, ...audit.QueryOption) (audit.Stats, error) {
	return audit.Stats{}, dErrors.New(dErrors.CodeIntegrity, "ledger chain broken")
}

func (s *AuditHandlerSuite) TestBrokenChainRequiresAcknowledgement() {
	reader := &brokenReader{}
	router := chi.NewRouter()
	New(reader, nil, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit/records", nil))
	s.Equal(http.StatusConflict, w.Code)
	s.False(reader.acknowledged)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit/records?ack_broken=true", nil))
	s.Equal(http.StatusOK, w.Code)
	s.True(reader.acknowledged)
}
