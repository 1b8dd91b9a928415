// Package cooldown tracks the cooldown a committed gate result imposes on an
// actor for a policy class. While a cooldown is active the same actor may not
// request another governed action of that class.
package cooldown

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"afterimage/internal/scope"
)

// ErrClaimLost is returned by Commit when the reservation expired and another
// evaluation claimed the key in the meantime.
var ErrClaimLost = errors.New("cooldown reservation lost")

// Key identifies the pair a cooldown applies to.
type Key struct {
	Actor       string
	PolicyClass scope.PolicyClass
}

func (k Key) String() string {
	return k.Actor + ":" + string(k.PolicyClass)
}

// Reservation is an exclusive claim on a key for one in-flight evaluation.
type Reservation struct {
	Key   Key
	Token string
}

func newReservation(k Key) Reservation {
	return Reservation{Key: k, Token: uuid.NewString()}
}

// Tracker records and reports active cooldowns.
//
// Reserve and Commit bracket a ledger append: Reserve atomically checks that
// k is free and claims it for hold, so concurrent evaluations of the same key
// cannot both pass the check. Commit turns the claim into the committed
// cooldown, Release gives it up when nothing was committed.
type Tracker interface {
	// Reserve claims k for hold. When k is cooling down or already claimed it
	// returns the time left and a zero Reservation.
	Reserve(ctx context.Context, k Key, hold time.Duration) (Reservation, time.Duration, error)
	// Commit replaces the claim with a cooldown of d. d <= 0 clears the key.
	Commit(ctx context.Context, r Reservation, d time.Duration) error
	// Release drops a claim that was never committed.
	Release(ctx context.Context, r Reservation) error
	// Remaining returns how long k is still blocked, or zero.
	Remaining(ctx context.Context, k Key) (time.Duration, error)
}
