// README: Taxi persistence contract and the in-memory implementation.
package taxi

import (
	"context"
	"sort"
	"sync"
	"time"

	"sharetaxi/internal/types"
)

// Store persists taxis. CompareAndMutate must be indivisible relative to
// every other mutator of the same taxi.
type Store interface {
	Create(ctx context.Context, t *Taxi) error
	Get(ctx context.Context, id types.ID) (*Taxi, error)
	List(ctx context.Context) ([]Taxi, error)
	// CompareAndMutate returns the mutated taxi, ErrNotFound, or ErrPredicateFailed.
	CompareAndMutate(ctx context.Context, id types.ID, pred Predicate, mut Mutation) (*Taxi, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	taxis map[types.ID]*Taxi
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{taxis: make(map[types.ID]*Taxi), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, t *Taxi) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taxis[t.ID]; ok {
		return ErrConflict
	}
	cp := *t
	s.taxis[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Taxi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.taxis[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Taxi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Taxi, 0, len(s.taxis))
	for _, t := range s.taxis {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CompareAndMutate(_ context.Context, id types.ID, pred Predicate, mut Mutation) (*Taxi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.taxis[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !pred(*t) {
		return nil, ErrPredicateFailed
	}
	next := *t
	mut(&next)
	next.ID = t.ID
	next.Version = t.Version + 1
	next.UpdatedAt = s.now()
	*t = next
	cp := next
	return &cp, nil
}
