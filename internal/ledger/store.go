package ledger

import "context"

// Store persists committed records. Implementations must make Append atomic
// (the record is fully durable or not present at all) and must reject a
// record whose sequence number is not exactly last+1 with sentinel.ErrConflict.
// Infrastructure failures should wrap sentinel.ErrUnavailable.
//
// There is no update or delete operation.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Last returns the highest committed record, or ok=false when empty.
	Last(ctx context.Context) (r Record, ok bool, err error)
	// Range returns committed records with from <= sequence_no <= to in
	// ascending order. to == 0 means "through the end".
	Range(ctx context.Context, from, to uint64) ([]Record, error)
}

// Syncer is implemented by stores that buffer writes and can flush them.
type Syncer interface {
	Sync() error
}
