package sequence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Backend {
		return NewMemoryStore(DefaultFloor)
	})
}

func TestMemoryStoreSpawnsNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewMemoryStore(DefaultFloor)
	allocateConcurrently(t, s, "Receipt", 32)
}

func TestMemoryStoreCustomFloor(t *testing.T) {
	s := NewMemoryStore(0)
	v, err := s.Allocate(context.Background(), "Receipt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := NewMemoryStore(DefaultFloor)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Allocate(ctx, "Receipt")
	assert.True(t, IsStoreUnavailable(err))

	// nothing was consumed
	v, err := s.Allocate(context.Background(), "Receipt")
	require.NoError(t, err)
	assert.Equal(t, DefaultFloor+1, v)
}

func TestMemoryStoreRaisedFloor(t *testing.T) {
	counters := make(map[string]int64)
	testRaisedFloorContract(t, func(t *testing.T, floor int64) Backend {
		s := NewMemoryStore(floor)
		s.counters = counters
		return s
	})
}
