package sequence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var counterBucket = []byte("sequence_counters")

var errCorruptCounter = errors.New("counter value is not an 8 byte integer")

// BoltStore keeps counters in a single bbolt file. Every allocation is its own
// write transaction; bbolt serializes writers and fsyncs on commit.
type BoltStore struct {
	db    *bbolt.DB
	floor int64
}

// OpenBoltStore opens (or creates) the counter file at path.
func OpenBoltStore(path string, floor int64) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt counter store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(counterBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create counter bucket: %w", err)
	}
	return &BoltStore{db: db, floor: floor}, nil
}

func (s *BoltStore) Allocate(ctx context.Context, name string) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, Unavailable(name, err)
	}

	var next int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(counterBucket)
		cur, ok, err := decodeCounter(b.Get([]byte(name)))
		if err != nil {
			return err
		}
		if !ok || cur < s.floor {
			cur = s.floor
		}
		next = cur + 1
		return b.Put([]byte(name), encodeCounter(next))
	})
	if err != nil {
		if errors.Is(err, errCorruptCounter) {
			return 0, ConstraintViolation(name, err)
		}
		return 0, Unavailable(name, err)
	}
	return next, nil
}

func (s *BoltStore) Current(_ context.Context, name string) (int64, error) {
	var (
		v  int64
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		v, ok, err = decodeCounter(tx.Bucket(counterBucket).Get([]byte(name)))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read counter %q: %w", name, err)
	}
	if !ok {
		return 0, ErrCounterNotFound
	}
	return v, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeCounter(raw []byte) (int64, bool, error) {
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, errCorruptCounter
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}
