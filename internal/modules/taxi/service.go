// README: Taxi registry service; every driver update goes through CompareAndMutate and emits TaxiStateChanged.
package taxi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sharetaxi/internal/events"
	"sharetaxi/internal/types"
)

var (
	ErrNotFound        = errors.New("taxi not found")
	ErrConflict        = errors.New("taxi state conflict")
	ErrContended       = errors.New("taxi updated concurrently, retry")
	ErrPredicateFailed = errors.New("taxi predicate failed")
	ErrInvalidState    = errors.New("invalid taxi state transition")
	ErrForbidden       = errors.New("taxi belongs to another driver")
	ErrBusy            = errors.New("taxi has passengers on board or open requests")
	ErrBadRequest      = errors.New("bad request")
)

// RouteCatalog is the subset of the route catalog the registry needs.
type RouteCatalog interface {
	StopPosition(routeID, stopID types.ID) (int, error)
}

type Service struct {
	store  Store
	routes RouteCatalog
	events events.Publisher
	logger *slog.Logger
}

func NewService(store Store, routes RouteCatalog, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{store: store, routes: routes, events: pub, logger: logger.With("component", "taxi")}
}

type RegisterCommand struct {
	TaxiID      types.ID
	DriverID    types.ID
	Capacity    int
	RouteID     types.ID
	CurrentStop types.ID
}

type SetStatusCommand struct {
	TaxiID   types.ID
	DriverID types.ID
	Status   Status
}

type AdvanceStopCommand struct {
	TaxiID   types.ID
	DriverID types.ID
	StopID   types.ID
}

type SetLoadCommand struct {
	TaxiID   types.ID
	DriverID types.ID
	Load     int
}

type SetAcceptingCommand struct {
	TaxiID   types.ID
	DriverID types.ID
	Rides    *bool
	Pickups  *bool
}

type AssignRouteCommand struct {
	TaxiID    types.ID
	DriverID  types.ID
	RouteID   types.ID
	StartStop types.ID
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Taxi, error) {
	if cmd.DriverID == "" || cmd.Capacity <= 0 {
		return nil, ErrBadRequest
	}
	if cmd.RouteID != "" {
		if err := s.checkStop(cmd.RouteID, cmd.CurrentStop); err != nil {
			return nil, err
		}
	}
	id := cmd.TaxiID
	if id == "" {
		id = types.ID(uuid.NewString())
	}
	t := &Taxi{
		ID:               id,
		DriverID:         cmd.DriverID,
		RouteID:          cmd.RouteID,
		CurrentStop:      cmd.CurrentStop,
		Status:           StatusOffDuty,
		Capacity:         cmd.Capacity,
		AcceptingRides:   true,
		AcceptingPickups: true,
		Active:           true,
		UpdatedAt:        time.Now(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("taxi registered", "taxi_id", t.ID, "driver_id", t.DriverID)
	return t, nil
}

// Get returns an active taxi. Deactivated taxis read as not found.
func (s *Service) Get(ctx context.Context, id types.ID) (*Taxi, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *Service) List(ctx context.Context) ([]Taxi, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

// CompareAndMutate applies mut to an active taxi when pred holds. It does not emit events.
func (s *Service) CompareAndMutate(ctx context.Context, id types.ID, pred Predicate, mut Mutation) (*Taxi, error) {
	t, err := s.store.CompareAndMutate(ctx, id, func(t Taxi) bool { return t.Active && pred(t) }, mut)
	if errors.Is(err, ErrPredicateFailed) {
		if cur, getErr := s.store.Get(ctx, id); getErr == nil && !cur.Active {
			return nil, ErrNotFound
		}
	}
	return t, err
}

func (s *Service) SetStatus(ctx context.Context, cmd SetStatusCommand) (*Taxi, error) {
	if !cmd.Status.Valid() {
		return nil, ErrBadRequest
	}
	return s.driverUpdate(ctx, cmd.TaxiID, cmd.DriverID,
		func(t Taxi) bool {
			if !CanTransition(t.Status, cmd.Status) {
				return false
			}
			return cmd.Status != StatusAvailable || t.HasSeat()
		},
		func(t *Taxi) { t.Status = cmd.Status },
		ErrInvalidState,
	)
}

// AdvanceStop moves the taxi forward along its route. Moving backwards is rejected.
func (s *Service) AdvanceStop(ctx context.Context, cmd AdvanceStopCommand) (*Taxi, error) {
	cur, err := s.owned(ctx, cmd.TaxiID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if cur.RouteID == "" {
		return nil, ErrInvalidState
	}
	target, err := s.routes.StopPosition(cur.RouteID, cmd.StopID)
	if err != nil {
		return nil, err
	}
	routeID := cur.RouteID
	return s.driverUpdate(ctx, cmd.TaxiID, cmd.DriverID,
		func(t Taxi) bool {
			if t.RouteID != routeID {
				return false
			}
			if t.CurrentStop == "" {
				return true
			}
			pos, err := s.routes.StopPosition(t.RouteID, t.CurrentStop)
			return err != nil || pos <= target
		},
		func(t *Taxi) { t.CurrentStop = cmd.StopID },
		ErrInvalidState,
	)
}

func (s *Service) SetLoad(ctx context.Context, cmd SetLoadCommand) (*Taxi, error) {
	if cmd.Load < 0 {
		return nil, ErrBadRequest
	}
	return s.driverUpdate(ctx, cmd.TaxiID, cmd.DriverID,
		func(t Taxi) bool { return cmd.Load <= t.Capacity },
		func(t *Taxi) {
			t.Load = cmd.Load
			settleLoadStatus(t)
		},
		ErrBadRequest,
	)
}

func (s *Service) SetAccepting(ctx context.Context, cmd SetAcceptingCommand) (*Taxi, error) {
	return s.driverUpdate(ctx, cmd.TaxiID, cmd.DriverID, Always,
		func(t *Taxi) {
			if cmd.Rides != nil {
				t.AcceptingRides = *cmd.Rides
			}
			if cmd.Pickups != nil {
				t.AcceptingPickups = *cmd.Pickups
			}
		},
		ErrInvalidState,
	)
}

// AssignRoute moves an idle taxi onto a route at the given stop.
func (s *Service) AssignRoute(ctx context.Context, cmd AssignRouteCommand) (*Taxi, error) {
	if err := s.checkStop(cmd.RouteID, cmd.StartStop); err != nil {
		return nil, err
	}
	return s.driverUpdate(ctx, cmd.TaxiID, cmd.DriverID,
		Taxi.Idle,
		func(t *Taxi) {
			t.RouteID = cmd.RouteID
			t.CurrentStop = cmd.StartStop
		},
		ErrBusy,
	)
}

// Deactivate retires a taxi. A taxi with passengers on board or an accepted
// request still open cannot be removed.
func (s *Service) Deactivate(ctx context.Context, taxiID, driverID types.ID) error {
	_, err := s.driverUpdate(ctx, taxiID, driverID,
		Taxi.Idle,
		func(t *Taxi) {
			t.Active = false
			t.Status = StatusOffDuty
			t.AcceptingRides = false
			t.AcceptingPickups = false
		},
		ErrBusy,
	)
	if err == nil {
		s.logger.Info("taxi deactivated", "taxi_id", taxiID)
	}
	return err
}

func (s *Service) owned(ctx context.Context, taxiID, driverID types.ID) (*Taxi, error) {
	t, err := s.Get(ctx, taxiID)
	if err != nil {
		return nil, err
	}
	if driverID != "" && t.DriverID != driverID {
		return nil, ErrForbidden
	}
	return t, nil
}

// driverUpdate checks ownership, applies the mutation and publishes the new state.
// failErr is returned when pred rejects the current state.
func (s *Service) driverUpdate(ctx context.Context, taxiID, driverID types.ID, pred Predicate, mut Mutation, failErr error) (*Taxi, error) {
	if _, err := s.owned(ctx, taxiID, driverID); err != nil {
		return nil, err
	}
	t, err := s.CompareAndMutate(ctx, taxiID, pred, mut)
	if errors.Is(err, ErrPredicateFailed) {
		return nil, failErr
	}
	if err != nil {
		return nil, err
	}
	s.events.PublishTaxiStateChanged(StateChanged(*t))
	return t, nil
}

func (s *Service) checkStop(routeID, stopID types.ID) error {
	if stopID == "" {
		return ErrBadRequest
	}
	_, err := s.routes.StopPosition(routeID, stopID)
	return err
}
