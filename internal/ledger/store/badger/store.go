package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"afterimage/internal/ledger"
	platformbadger "afterimage/internal/platform/badger"
	"afterimage/pkg/platform/sentinel"
)

var (
	recordPrefix = []byte("ledger/rec/")
	headKey      = []byte("ledger/head")
)

// Store implements ledger.Store on an embedded BadgerDB. Records are stored
// as JSON snapshots under big-endian sequence keys so iteration order is
// sequence order.
type Store struct {
	db *platformbadger.DB
}

// New creates a ledger store on an open database.
func New(db *platformbadger.DB) *Store {
	return &Store{db: db}
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], seq)
	return key
}

func (s *Store) Append(ctx context.Context, r ledger.Record) error {
	value, err := json.Marshal(r.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, r.SequenceNo())

	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		head, err := readHead(txn)
		if err != nil {
			return err
		}
		if r.SequenceNo() != head+1 {
			return fmt.Errorf("append sequence %d, expected %d: %w", r.SequenceNo(), head+1, sentinel.ErrConflict)
		}
		if err := txn.Set(recordKey(r.SequenceNo()), value); err != nil {
			return err
		}
		return txn.Set(headKey, seqBytes)
	})
	if err != nil {
		return classify("append ledger record", err)
	}
	return nil
}

func readHead(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(headKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("head key holds %d bytes", len(val))
		}
		head = binary.BigEndian.Uint64(val)
		return nil
	})
	return head, err
}

func (s *Store) Last(ctx context.Context) (ledger.Record, bool, error) {
	var (
		rec ledger.Record
		ok  bool
	)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		head, err := readHead(txn)
		if err != nil || head == 0 {
			return err
		}
		item, err := txn.Get(recordKey(head))
		if err != nil {
			return err
		}
		rec, err = decode(head, item)
		ok = err == nil
		return err
	})
	if err != nil {
		return ledger.Record{}, false, classify("read last ledger record", err)
	}
	return rec, ok, nil
}

func (s *Store) Range(ctx context.Context, from, to uint64) ([]ledger.Record, error) {
	if from == 0 {
		from = 1
	}
	records := []ledger.Record{}
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordKey(from)); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key()[len(recordPrefix):])
			if to != 0 && seq > to {
				break
			}
			rec, err := decode(seq, item)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, classify("range ledger records", err)
	}
	return records, nil
}

// Sync flushes buffered writes.
func (s *Store) Sync() error {
	return s.db.Sync()
}

func decode(seq uint64, item *badger.Item) (ledger.Record, error) {
	var snap ledger.Snapshot
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &snap)
	})
	if err != nil {
		return ledger.Record{}, &ledger.CorruptRecordError{SequenceNo: seq, Err: err}
	}
	rec, err := ledger.FromSnapshot(snap)
	if err != nil {
		return ledger.Record{}, &ledger.CorruptRecordError{SequenceNo: seq, Err: err}
	}
	return rec, nil
}

func classify(op string, err error) error {
	var corrupt *ledger.CorruptRecordError
	switch {
	case errors.As(err, &corrupt),
		errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
}
