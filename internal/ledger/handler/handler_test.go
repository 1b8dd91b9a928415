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

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/ledger/store/memory"
	"afterimage/internal/scope"
)

// =============================================================================
// Ledger Handler Test Suite
// =============================================================================
// Justification for unit tests: range parsing, page bounds and the rule that
// a broken chain is reported as data rather than as an HTTP error.

type LedgerHandlerSuite struct {
	suite.Suite
	ctx    context.Context
	ledger *ledger.Ledger
	router chi.Router
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func (s *LedgerHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	catalog, err := gate.DefaultCatalog()
	s.Require().NoError(err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s.ledger, err = ledger.Open(s.ctx, memory.NewInMemoryStore(), gate.NewEngine(catalog),
		ledger.WithLogger(logger),
		ledger.WithClock(func() time.Time { return now }),
	)
	s.Require().NoError(err)
	for m := 0.0; m < 3; m++ {
		_, err := s.ledger.Append(s.ctx, ledger.AppendRequest{
			Scope:       scope.ActorScope{Actor: "operator-1", Tier: scope.TierK6},
			PolicyClass: scope.PolicyRoutine,
			Constants:   gate.Constants{M: m, Psi: 2, R: 1, F0: 1},
			Environment: gate.Environment{TimeDensity: 0.3, SpatialDensity: 0.2, ContextRisk: 0.1},
			Versions:    gate.Versions{Weights: "phys-w1.0", Thresholds: "phys-t1.0"},
		})
		s.Require().NoError(err)
	}
	s.router = chi.NewRouter()
	h := New(s.ledger, logger)
	h.Register(s.router)
	h.RegisterOperator(s.router)
}

func (s *LedgerHandlerSuite) get(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (s *LedgerHandlerSuite) TestHead() {
	w := s.get("/ledger/head")
	s.Require().Equal(http.StatusOK, w.Code)
	var resp HeadResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(uint64(3), resp.SequenceNo)
	s.Equal(s.ledger.Head(s.ctx).Hash.String(), resp.Hash)
}

func (s *LedgerHandlerSuite) TestRecords() {
	s.Run("full range", func() {
		w := s.get("/ledger/records")
		s.Require().Equal(http.StatusOK, w.Code)
		var resp RecordsResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().Len(resp.Records, 3)
		s.Equal(resp.Records[0].ContentHash, resp.Records[1].PreviousHash)
		s.Equal(resp.Head.Hash, resp.Records[2].ContentHash)
	})

	s.Run("sub range", func() {
		w := s.get("/ledger/records?from=2&to=2")
		var resp RecordsResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().Len(resp.Records, 1)
		s.Equal(uint64(2), resp.Records[0].SequenceNo)
	})

	s.Run("past the head is empty", func() {
		w := s.get("/ledger/records?from=10")
		var resp RecordsResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Empty(resp.Records)
	})

	s.Run("invalid range", func() {
		s.Equal(http.StatusBadRequest, s.get("/ledger/records?from=3&to=1").Code)
		s.Equal(http.StatusBadRequest, s.get("/ledger/records?from=abc").Code)
	})
}

func (s *LedgerHandlerSuite) TestVerify() {
	w := s.get("/ledger/verify")
	s.Require().Equal(http.StatusOK, w.Code)
	var res ledger.VerifyResult
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &res))
	s.Equal(ledger.StatusValid, res.Status)
	s.Equal(uint64(3), res.Checked)

	w = s.get("/ledger/verify?from=2&to=3")
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &res))
	s.Equal(uint64(2), res.Checked)

	s.Run("range past the head leaves the chain valid", func() {
		w := s.get("/ledger/verify?from=4")
		s.Require().Equal(http.StatusOK, w.Code)
		var res ledger.VerifyResult
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &res))
		s.Equal(ledger.StatusValid, res.Status)
		s.Zero(res.Checked)

		w = s.get("/ledger/verify")
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &res))
		s.Equal(ledger.StatusValid, res.Status)
	})
}
