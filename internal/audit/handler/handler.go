package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"afterimage/internal/audit"
	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/platform/httputil"
	"afterimage/pkg/requestcontext"
)

// Reader answers audit queries over verified ledger records.
type Reader interface {
	Query(ctx context.Context, f audit.Filter, opts ...audit.QueryOption) ([]audit.Entry, error)
	Stats(ctx context.Context, f audit.Filter, opts ...audit.QueryOption) (audit.Stats, error)
}

// Replayer recomputes decisions from persisted inputs.
type Replayer interface {
	Replay(ctx context.Context, from, to uint64) (audit.ReplayReport, error)
}

// Handler serves the read-only audit API.
type Handler struct {
	reader   Reader
	replayer Replayer
	logger   *slog.Logger
}

func New(reader Reader, replayer Replayer, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, replayer: replayer, logger: logger}
}

// Register mounts audit query endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/records", h.HandleRecords)
	r.Get("/audit/stats", h.HandleStats)
}

// RegisterOperator mounts replay, which recomputes every record in range.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Get("/audit/replay", h.HandleReplay)
}

// EntryResponse is one audited record.
type EntryResponse struct {
	ledger.Snapshot
	Verified bool `json:"verified"`
}

// RecordsResponse lists matching records.
type RecordsResponse struct {
	Records []EntryResponse `json:"records"`
	Count   int             `json:"count"`
}

// StatsResponse aggregates matching records.
type StatsResponse struct {
	audit.Stats
	MeanCooldownMillis int64 `json:"mean_cooldown_ms"`
}

// HandleRecords handles GET /audit/records.
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, opts, ok := h.parseQuery(w, r)
	if !ok {
		return
	}
	entries, err := h.reader.Query(ctx, filter, opts...)
	if err != nil {
		h.fail(ctx, w, "audit query failed", err)
		return
	}
	resp := RecordsResponse{Records: make([]EntryResponse, 0, len(entries)), Count: len(entries)}
	for _, e := range entries {
		resp.Records = append(resp.Records, EntryResponse{Snapshot: e.Record.Snapshot(), Verified: e.Verified})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /audit/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, opts, ok := h.parseQuery(w, r)
	if !ok {
		return
	}
	stats, err := h.reader.Stats(ctx, filter, opts...)
	if err != nil {
		h.fail(ctx, w, "audit stats failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{Stats: stats, MeanCooldownMillis: stats.MeanCooldown.Milliseconds()})
}

// HandleReplay handles GET /audit/replay?from=&to=.
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, err := httputil.QueryUint(r, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := httputil.QueryUint(r, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.replayer.Replay(ctx, from, to)
	if err != nil {
		h.fail(ctx, w, "audit replay failed", err)
		return
	}
	if !report.Consistent() {
		h.logger.WarnContext(ctx, "replay found divergent records",
			"request_id", requestcontext.RequestID(ctx),
			"mismatches", len(report.Mismatches),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (audit.Filter, []audit.QueryOption, bool) {
	q := r.URL.Query()
	f := audit.Filter{Actor: q.Get("actor")}
	if raw := q.Get("tier"); raw != "" {
		t, err := scope.ParseTier(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return audit.Filter{}, nil, false
		}
		f.Tier = t
	}
	if raw := q.Get("gate"); raw != "" {
		g, err := gate.ParseGate(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return audit.Filter{}, nil, false
		}
		f.Gate = g
	}
	var err error
	if f.Since, err = httputil.QueryTime(r, "since"); err != nil {
		httputil.WriteError(w, err)
		return audit.Filter{}, nil, false
	}
	if f.Until, err = httputil.QueryTime(r, "until"); err != nil {
		httputil.WriteError(w, err)
		return audit.Filter{}, nil, false
	}
	if f.Since.After(requestcontext.Now(r.Context())) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "since is in the future"))
		return audit.Filter{}, nil, false
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "since must be before until"))
		return audit.Filter{}, nil, false
	}

	var opts []audit.QueryOption
	if raw := q.Get("ack_broken"); raw != "" {
		ack, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "ack_broken must be a boolean"))
			return audit.Filter{}, nil, false
		}
		if ack {
			opts = append(opts, audit.AcknowledgeBroken())
		}
	}
	return f, opts, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
