package sequence

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory. Values are lost on restart,
// so it is only suitable for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	floor    int64
	counters map[string]int64
}

func NewMemoryStore(floor int64) *MemoryStore {
	return &MemoryStore{floor: floor, counters: make(map[string]int64)}
}

func (s *MemoryStore) Allocate(ctx context.Context, name string) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, Unavailable(name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := max(s.counters[name], s.floor)
	v++
	s.counters[name] = v
	return v, nil
}

func (s *MemoryStore) Current(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.counters[name]
	if !ok {
		return 0, ErrCounterNotFound
	}
	return v, nil
}
