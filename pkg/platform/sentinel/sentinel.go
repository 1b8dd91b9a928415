// Package sentinel holds infrastructure facts returned by ledger stores. The
// ledger translates them into domain errors; nothing above it sees these.
package sentinel

import "errors"

var (
	// ErrConflict means the write lost a race: the sequence number or one of
	// the hashes is already taken.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable means the backing store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
