// Package sequence hands out monotonically increasing integer identifiers per
// entity type and assigns them to new entities before they are first written.
package sequence

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks . Store,Backend

import (
	"context"
	"errors"
	"fmt"
)

// DefaultFloor is the value counters start from; the first allocation returns DefaultFloor+1
const DefaultFloor int64 = 600

// MaxNameLength matches the width of sequence_counters.name
const MaxNameLength = 64

var (
	ErrStoreUnavailable    = errors.New("sequence store unavailable")
	ErrConstraintViolation = errors.New("sequence counter constraint violated")
	ErrOrphanedAllocation  = errors.New("allocated sequence value was never persisted")
	ErrCounterNotFound     = errors.New("sequence counter not found")
	ErrInvalidName         = errors.New("invalid sequence name")
)

// Store allocates values from named counters.
//
// Allocate atomically increments the counter for name and returns the new
// value, creating the counter at floor+1 when it does not exist yet. The value
// is durable before Allocate returns. Failures are reported as
// ErrStoreUnavailable or ErrConstraintViolation and are never retried here.
type Store interface {
	Allocate(ctx context.Context, name string) (int64, error)
}

// Reader reads the last allocated value without allocating.
type Reader interface {
	Current(ctx context.Context, name string) (int64, error)
}

// Backend is a Store that can also be inspected.
type Backend interface {
	Store
	Reader
}

// AllocationError describes a failed allocation. Kind is ErrStoreUnavailable or ErrConstraintViolation.
type AllocationError struct {
	Name string
	Kind error
	Err  error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("allocate %q: %v: %v", e.Name, e.Kind, e.Err)
	}
	return fmt.Sprintf("allocate %q: %v", e.Name, e.Kind)
}

func (e *AllocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps an infrastructure failure for name.
func Unavailable(name string, err error) error {
	return &AllocationError{Name: name, Kind: ErrStoreUnavailable, Err: err}
}

// ConstraintViolation wraps an integrity failure for name.
func ConstraintViolation(name string, err error) error {
	return &AllocationError{Name: name, Kind: ErrConstraintViolation, Err: err}
}

// OrphanedAllocationError reports a value that was allocated for an entity whose write then failed.
type OrphanedAllocationError struct {
	Name string
	ID   int64
	Err  error
}

func (e *OrphanedAllocationError) Error() string {
	return fmt.Sprintf("%s value %d orphaned: %v", e.Name, e.ID, e.Err)
}

func (e *OrphanedAllocationError) Unwrap() []error {
	return []error{ErrOrphanedAllocation, e.Err}
}

// ValidateName rejects names that cannot key a counter row.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, name, MaxNameLength)
	}
	return nil
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

func IsOrphanedAllocation(err error) bool {
	return errors.Is(err, ErrOrphanedAllocation)
}

func IsCounterNotFound(err error) bool {
	return errors.Is(err, ErrCounterNotFound)
}
