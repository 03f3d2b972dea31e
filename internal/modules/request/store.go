// README: Request persistence contract and the in-memory implementation.
package request

import (
	"context"
	"sort"
	"sync"
	"time"

	"sharetaxi/internal/types"
)

type Store interface {
	// Create fails with ErrActiveRequest when the passenger already has an active request.
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	// TransitionPendingToAccepted succeeds only while the request is pending.
	// It returns ErrAlreadyResolved otherwise.
	TransitionPendingToAccepted(ctx context.Context, id, taxiID types.ID, at time.Time) (*Request, error)
	// RevertAccepted puts a request claimed by taxiID back to pending.
	RevertAccepted(ctx context.Context, id, taxiID types.ID) (bool, error)
	// MarkHeld flags an accepted request as recorded on taxiID. It applies only
	// while the request is still accepted by taxiID and not held yet.
	MarkHeld(ctx context.Context, id, taxiID types.ID) (bool, error)
	// ReleaseHold clears the flag set by MarkHeld, whatever the status. Exactly
	// one caller observes true for each successful MarkHeld.
	ReleaseHold(ctx context.Context, id, taxiID types.ID) (bool, error)
	// UpdateStatus applies from→to only if status and version still match.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int64, at time.Time) (bool, error)
	ListPending(ctx context.Context, routeID types.ID) ([]Request, error)
	AppendEvent(ctx context.Context, e *StateEvent) error
}

type MemoryStore struct {
	mu       sync.Mutex
	requests map[types.ID]*Request
	events   []StateEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[types.ID]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return ErrConflict
	}
	for _, existing := range s.requests {
		if existing.PassengerID == r.PassengerID && existing.Status.Active() {
			return ErrActiveRequest
		}
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) TransitionPendingToAccepted(_ context.Context, id, taxiID types.ID, at time.Time) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}
	r.Status = StatusAccepted
	r.AcceptingTaxi = taxiID
	r.AcceptedAt = &at
	r.Version++
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) RevertAccepted(_ context.Context, id, taxiID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusAccepted || r.AcceptingTaxi != taxiID || r.Held {
		return false, nil
	}
	r.Status = StatusPending
	r.AcceptingTaxi = ""
	r.AcceptedAt = nil
	r.Version++
	return true, nil
}

func (s *MemoryStore) MarkHeld(_ context.Context, id, taxiID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusAccepted || r.AcceptingTaxi != taxiID || r.Held {
		return false, nil
	}
	r.Held = true
	return true, nil
}

func (s *MemoryStore) ReleaseHold(_ context.Context, id, taxiID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.AcceptingTaxi != taxiID || !r.Held {
		return false, nil
	}
	r.Held = false
	return true, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from || r.Version != version {
		return false, nil
	}
	r.Status = to
	r.Version++
	if !to.Active() {
		r.ClosedAt = &at
	}
	return true, nil
}

func (s *MemoryStore) ListPending(_ context.Context, routeID types.ID) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Status != StatusPending {
			continue
		}
		if routeID != "" && r.RouteID != routeID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *StateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := *e
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}
