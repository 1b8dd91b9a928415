package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"afterimage/internal/decision"
	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/platform/httputil"
	"afterimage/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the interface for decision operations.
type Service interface {
	Evaluate(ctx context.Context, req decision.EvaluateRequest) (*decision.EvaluateResult, error)
}

// Handler wires decision endpoints to the decision service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a decision handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts decision endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/decision/evaluate", h.HandleEvaluate)
}

// HandleEvaluate handles POST /decision/evaluate requests.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	// Require authenticated actor
	actor := requestcontext.Actor(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	domainReq := decision.EvaluateRequest{
		Actor:       actor,
		PolicyClass: req.ParsedPolicyClass(),
		Constants:   *req.Constants,
		Environment: *req.Environment,
		Versions:    req.versions(),
	}

	result, err := h.service.Evaluate(ctx, domainReq)
	if err != nil {
		var active *decision.CooldownActiveError
		if errors.As(err, &active) {
			seconds := int64(math.Ceil(active.Remaining.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
		h.logger.WarnContext(ctx, "decision evaluation failed",
			"request_id", requestID,
			"actor", actor,
			"policy_class", domainReq.PolicyClass,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "decision evaluated",
		"request_id", requestID,
		"actor", actor,
		"policy_class", domainReq.PolicyClass,
		"sequence_no", result.Record.SequenceNo(),
		"gate", result.Record.Gate(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusOK, FromResult(result))
}
