package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks ScopeProvider,Ledger,CooldownTracker

import (
	"context"
	"time"

	"afterimage/internal/cooldown"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
)

// ScopeProvider resolves the acting identity to its tier.
type ScopeProvider interface {
	ScopeOf(ctx context.Context, actor string) (scope.ActorScope, error)
}

// Ledger commits evaluated decisions.
type Ledger interface {
	Append(ctx context.Context, req ledger.AppendRequest) (ledger.Record, error)
}

// CooldownTracker enforces the cooldown imposed by a committed gate result.
// A key is reserved before the append and committed or released after it.
type CooldownTracker interface {
	Reserve(ctx context.Context, k cooldown.Key, hold time.Duration) (cooldown.Reservation, time.Duration, error)
	Commit(ctx context.Context, r cooldown.Reservation, d time.Duration) error
	Release(ctx context.Context, r cooldown.Reservation) error
}
