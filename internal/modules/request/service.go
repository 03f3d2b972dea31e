// README: Request service implements creation, the accept claim and closing transitions.
package request

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sharetaxi/internal/events"
	"sharetaxi/internal/modules/pricing"
	"sharetaxi/internal/types"
)

var (
	ErrNotFound        = errors.New("request not found")
	ErrConflict        = errors.New("request state conflict")
	ErrInvalidState    = errors.New("invalid request state transition")
	ErrAlreadyResolved = errors.New("request already resolved")
	ErrActiveRequest   = errors.New("passenger has active request")
	ErrForbidden       = errors.New("request belongs to someone else")
	ErrBadRequest      = errors.New("bad request")
)

type RouteCatalog interface {
	StopPosition(routeID, stopID types.ID) (int, error)
}

type Pricing interface {
	Estimate(ctx context.Context, q pricing.Quote) (types.Money, error)
}

type Service struct {
	store   Store
	routes  RouteCatalog
	pricing Pricing
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store Store, routes RouteCatalog, pricer Pricing, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{
		store:   store,
		routes:  routes,
		pricing: pricer,
		events:  pub,
		logger:  logger.With("component", "request"),
		now:     time.Now,
	}
}

type CreateCommand struct {
	PassengerID types.ID
	Type        Type
	RouteID     types.ID
	StartStop   types.ID
	DestStop    types.ID
}

type CancelCommand struct {
	RequestID   types.ID
	PassengerID types.ID
}

type CompleteCommand struct {
	RequestID types.ID
	TaxiID    types.ID
}

// PendingFilter narrows driver browsing. An empty RouteID lists every route.
type PendingFilter struct {
	RouteID types.ID
	Match   func(Request) bool
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if cmd.PassengerID == "" || cmd.RouteID == "" || cmd.StartStop == "" {
		return nil, ErrBadRequest
	}
	startPos, err := s.routes.StopPosition(cmd.RouteID, cmd.StartStop)
	if err != nil {
		return nil, err
	}
	stops := 0
	switch cmd.Type {
	case TypeRide:
		if cmd.DestStop == "" {
			return nil, ErrBadRequest
		}
		destPos, err := s.routes.StopPosition(cmd.RouteID, cmd.DestStop)
		if err != nil {
			return nil, err
		}
		if destPos <= startPos {
			return nil, ErrBadRequest
		}
		stops = destPos - startPos
	case TypePickup:
		cmd.DestStop = ""
	default:
		return nil, ErrBadRequest
	}

	now := s.now()
	r := &Request{
		ID:          types.ID(uuid.NewString()),
		PassengerID: cmd.PassengerID,
		Type:        cmd.Type,
		RouteID:     cmd.RouteID,
		StartStop:   cmd.StartStop,
		DestStop:    cmd.DestStop,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	if s.pricing != nil {
		if m, err := s.pricing.Estimate(ctx, pricing.Quote{RequestType: string(cmd.Type), Stops: stops}); err == nil {
			r.EstimatedFare = m
		}
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.audit(ctx, r.ID, StatusNone, StatusPending, "passenger", cmd.PassengerID)
	s.logger.Info("request created", "request_id", r.ID, "route_id", r.RouteID, "type", r.Type)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// TransitionPendingToAccepted is the single claim point: at most one taxi ever wins.
func (s *Service) TransitionPendingToAccepted(ctx context.Context, id, taxiID types.ID) (*Request, error) {
	r, err := s.store.TransitionPendingToAccepted(ctx, id, taxiID, s.now())
	if err != nil {
		return nil, err
	}
	s.audit(ctx, id, StatusPending, StatusAccepted, "taxi", taxiID)
	return r, nil
}

// RevertAccepted undoes a claim whose seat reservation failed. No events are emitted.
func (s *Service) RevertAccepted(ctx context.Context, id, taxiID types.ID) error {
	ok, err := s.store.RevertAccepted(ctx, id, taxiID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.audit(ctx, id, StatusAccepted, StatusPending, "system", "")
	return nil
}

// MarkHeld records that the accepting taxi took the assignment. false means the
// request was closed or reverted in the meantime.
func (s *Service) MarkHeld(ctx context.Context, id, taxiID types.ID) (bool, error) {
	return s.store.MarkHeld(ctx, id, taxiID)
}

// ReleaseHold reports whether the caller now owns undoing the taxi assignment.
func (s *Service) ReleaseHold(ctx context.Context, id, taxiID types.ID) (bool, error) {
	return s.store.ReleaseHold(ctx, id, taxiID)
}

// Cancel closes a pending or accepted request on behalf of its passenger.
// AcceptingTaxi on the result is non-empty when the request had been accepted.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Request, error) {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if cmd.PassengerID != "" && r.PassengerID != cmd.PassengerID {
		return nil, ErrForbidden
	}
	if err := s.close(ctx, r, StatusCancelled, "passenger", r.PassengerID); err != nil {
		return nil, err
	}
	return r, nil
}

// Complete closes an accepted request; only the accepting taxi may complete it.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Request, error) {
	r, err := s.store.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusAccepted && r.AcceptingTaxi != cmd.TaxiID {
		return nil, ErrForbidden
	}
	if err := s.close(ctx, r, StatusCompleted, "taxi", cmd.TaxiID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListPending returns a lazy view over a snapshot of pending requests.
func (s *Service) ListPending(ctx context.Context, f PendingFilter) (iter.Seq[Request], error) {
	pending, err := s.store.ListPending(ctx, f.RouteID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return func(yield func(Request) bool) {
		for _, r := range pending {
			if f.Match != nil && !f.Match(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}, nil
}

func (s *Service) close(ctx context.Context, r *Request, to Status, actorType string, actorID types.ID) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.Version, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	s.audit(ctx, r.ID, r.Status, to, actorType, actorID)
	r.Status = to
	r.Version++
	r.ClosedAt = &now
	s.events.PublishRequestClosed(events.RequestClosed{
		RequestID:   r.ID,
		PassengerID: r.PassengerID,
		TaxiID:      r.AcceptingTaxi,
		Status:      string(to),
		At:          now,
	})
	return nil
}

func (s *Service) audit(ctx context.Context, id types.ID, from, to Status, actorType string, actorID types.ID) {
	err := s.store.AppendEvent(ctx, &StateEvent{
		RequestID:  id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Warn("append request event failed", "request_id", id, "error", err)
	}
}
