package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"afterimage/internal/ledger"
	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/platform/httputil"
	"afterimage/pkg/requestcontext"
)

// maxPage bounds how many records one GET /ledger/records returns.
const maxPage = 1000

// Ledger is the read side of the ledger exposed over HTTP.
type Ledger interface {
	Head(ctx context.Context) ledger.Head
	Records(ctx context.Context, from, to uint64) ([]ledger.Record, error)
	Verify(ctx context.Context, from, to uint64) (ledger.VerifyResult, error)
}

// Handler serves read-only ledger endpoints. There is no write route; records
// are only created through the decision endpoint.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

func New(l Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: l, logger: logger}
}

// Register mounts ledger read endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ledger/head", h.HandleHead)
	r.Get("/ledger/records", h.HandleRecords)
}

// RegisterOperator mounts endpoints that scan the whole chain.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Get("/ledger/verify", h.HandleVerify)
}

// HeadResponse describes the latest committed record.
type HeadResponse struct {
	SequenceNo uint64 `json:"sequence_no"`
	Hash       string `json:"hash"`
}

// RecordsResponse is a page of committed records.
type RecordsResponse struct {
	Records []ledger.Snapshot `json:"records"`
	Head    HeadResponse      `json:"head"`
}

func toHead(h ledger.Head) HeadResponse {
	return HeadResponse{SequenceNo: h.SequenceNo, Hash: h.Hash.String()}
}

// HandleHead handles GET /ledger/head.
func (h *Handler) HandleHead(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, toHead(h.ledger.Head(r.Context())))
}

// HandleRecords handles GET /ledger/records?from=&to=.
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	if from == 0 {
		from = 1
	}
	if to == 0 || to-from >= maxPage {
		to = from + maxPage - 1
	}

	head := h.ledger.Head(ctx)
	records, err := h.ledger.Records(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read ledger records",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := RecordsResponse{Records: make([]ledger.Snapshot, 0, len(records)), Head: toHead(head)}
	for _, rec := range records {
		resp.Records = append(resp.Records, rec.Snapshot())
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleVerify handles GET /ledger/verify?from=&to=. A broken chain is a 200
// with status BROKEN; only an unreachable store is an error.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	res, err := h.ledger.Verify(ctx, from, to)
	if err != nil {
		h.logger.ErrorContext(ctx, "ledger verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "ledger verification requested",
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"status", res.Status,
		"from", res.From,
		"to", res.To,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) parseRange(w http.ResponseWriter, r *http.Request) (uint64, uint64, bool) {
	from, err := httputil.QueryUint(r, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return 0, 0, false
	}
	to, err := httputil.QueryUint(r, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return 0, 0, false
	}
	if to != 0 && from > to {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "from must not exceed to"))
		return 0, 0, false
	}
	return from, to, true
}
