package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"afterimage/internal/cooldown"
	"afterimage/internal/decision/metrics"
	"afterimage/internal/decision/ports"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
	"afterimage/pkg/requestcontext"
)

// reservationHold bounds how long an in-flight evaluation keeps its key
// claimed if it never commits or releases it.
const reservationHold = 30 * time.Second

// Service resolves the caller's scope, enforces cooldowns and commits each
// decision to the ledger. Denied requests leave no ledger record; they are
// logged as security events and counted.
type Service struct {
	scopes    ports.ScopeProvider
	ledger    ports.Ledger
	cooldowns ports.CooldownTracker
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCooldowns turns on cooldown enforcement.
func WithCooldowns(t ports.CooldownTracker) Option {
	return func(s *Service) {
		s.cooldowns = t
	}
}

func New(scopes ports.ScopeProvider, l ports.Ledger, opts ...Option) (*Service, error) {
	if scopes == nil {
		return nil, fmt.Errorf("scope provider is required")
	}
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	s := &Service{
		scopes: scopes,
		ledger: l,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Evaluate gates and records one decision.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveEvaluateLatency(time.Since(start)) }()

	if req.Actor == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	actorScope, err := s.scopes.ScopeOf(ctx, req.Actor)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.deny(ctx, req, "", "unknown_actor")
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "resolve actor scope")
	}
	if err := scope.Authorize(actorScope, req.PolicyClass); err != nil {
		s.deny(ctx, req, actorScope.Tier, "insufficient_tier")
		return nil, err
	}

	key := cooldown.Key{Actor: req.Actor, PolicyClass: req.PolicyClass}
	var claim cooldown.Reservation
	if s.cooldowns != nil {
		r, remaining, err := s.cooldowns.Reserve(ctx, key, reservationHold)
		if err != nil {
			s.logger.ErrorContext(ctx, "cooldown lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"actor", req.Actor,
				"error", err,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "cooldown state unavailable")
		}
		if remaining > 0 {
			s.metrics.IncrementDenied("cooldown_active")
			s.logger.InfoContext(ctx, "decision rejected during cooldown",
				"request_id", requestcontext.RequestID(ctx),
				"actor", req.Actor,
				"policy_class", req.PolicyClass,
				"remaining_ms", remaining.Milliseconds(),
			)
			return nil, &CooldownActiveError{Remaining: remaining}
		}
		claim = r
	}

	rec, err := s.ledger.Append(ctx, ledger.AppendRequest{
		Scope:       actorScope,
		PolicyClass: req.PolicyClass,
		Constants:   req.Constants,
		Environment: req.Environment,
		Versions:    req.Versions,
	})
	if err != nil {
		if s.cooldowns != nil {
			if rerr := s.cooldowns.Release(context.WithoutCancel(ctx), claim); rerr != nil {
				s.logger.WarnContext(ctx, "failed to release cooldown reservation",
					"request_id", requestcontext.RequestID(ctx),
					"actor", req.Actor,
					"error", rerr,
				)
			}
		}
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.deny(ctx, req, actorScope.Tier, "insufficient_tier")
		}
		return nil, err
	}

	if s.cooldowns != nil {
		if err := s.cooldowns.Commit(context.WithoutCancel(ctx), claim, rec.Cooldown()); err != nil {
			// The record is committed; replaying it re-derives the cooldown.
			s.logger.ErrorContext(ctx, "failed to start cooldown",
				"request_id", requestcontext.RequestID(ctx),
				"sequence_no", rec.SequenceNo(),
				"error", err,
			)
		}
	}

	s.metrics.IncrementOutcome(string(rec.Gate()), string(rec.PolicyClass()))
	return &EvaluateResult{Record: rec}, nil
}

// deny records a refused request as a security event.
func (s *Service) deny(ctx context.Context, req EvaluateRequest, tier scope.Tier, reason string) {
	s.metrics.IncrementDenied(reason)
	s.logger.WarnContext(ctx, "security: governed action denied",
		"request_id", requestcontext.RequestID(ctx),
		"client_ip", requestcontext.ClientIP(ctx),
		"actor", req.Actor,
		"tier", tier,
		"policy_class", req.PolicyClass,
		"reason", reason,
	)
}
