// README: Matching engine; validates and executes the accept protocol and seat release on close.
package matching

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"sharetaxi/internal/config"
	"sharetaxi/internal/events"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/route"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

type TaxiRegistry interface {
	Get(ctx context.Context, id types.ID) (*taxi.Taxi, error)
	CompareAndMutate(ctx context.Context, id types.ID, pred taxi.Predicate, mut taxi.Mutation) (*taxi.Taxi, error)
}

type RequestStore interface {
	Get(ctx context.Context, id types.ID) (*request.Request, error)
	TransitionPendingToAccepted(ctx context.Context, id, taxiID types.ID) (*request.Request, error)
	RevertAccepted(ctx context.Context, id, taxiID types.ID) error
	MarkHeld(ctx context.Context, id, taxiID types.ID) (bool, error)
	ReleaseHold(ctx context.Context, id, taxiID types.ID) (bool, error)
	ListPending(ctx context.Context, f request.PendingFilter) (iter.Seq[request.Request], error)
	Cancel(ctx context.Context, cmd request.CancelCommand) (*request.Request, error)
	Complete(ctx context.Context, cmd request.CompleteCommand) (*request.Request, error)
}

type RouteCatalog interface {
	StopPosition(routeID, stopID types.ID) (int, error)
	IsAtOrAfter(routeID, current, target types.ID) (bool, error)
	Stop(routeID, stopID types.ID) (route.Stop, error)
}

// Positions reports live taxi GPS positions. ok is false when none is known.
type Positions interface {
	Position(ctx context.Context, taxiID types.ID) (p types.Point, ok bool, err error)
}

type Options struct {
	PickupPolicy config.PickupPolicy
	Filter       Filter
	Ranker       Ranker
	Positions    Positions
}

type Engine struct {
	taxis    TaxiRegistry
	requests RequestStore
	routes   RouteCatalog
	events   events.Publisher
	opts     Options
	locks    requestLocks
	logger   *slog.Logger
}

// requestLocks orders an accept's hold and announcement against a close of the
// same request, so subscribers never see RequestClosed before RequestAccepted.
type requestLocks [32]sync.Mutex

func (l *requestLocks) lock(id types.ID) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}

func NewEngine(taxis TaxiRegistry, requests RequestStore, routes RouteCatalog, pub events.Publisher, opts Options, logger *slog.Logger) *Engine {
	if pub == nil {
		pub = events.Discard
	}
	if opts.PickupPolicy == "" {
		opts.PickupPolicy = config.PickupPolicyCapacity
	}
	if opts.Ranker == nil {
		opts.Ranker = ByStopsAway
	}
	return &Engine{
		taxis:    taxis,
		requests: requests,
		routes:   routes,
		events:   pub,
		opts:     opts,
		logger:   logger.With("component", "matching"),
	}
}

type AcceptCommand struct {
	RequestID types.ID
	TaxiID    types.ID
	// DriverID, when set, must own the taxi.
	DriverID types.ID
}

type AcceptResult struct {
	Request *request.Request
	Taxi    *taxi.Taxi
}

// Accept binds a pending request to a taxi. The request claim is the single
// linearization point: the first claim wins and every other attempt fails
// with ErrRequestUnavailable.
func (e *Engine) Accept(ctx context.Context, cmd AcceptCommand) (*AcceptResult, error) {
	req, err := e.requests.Get(ctx, cmd.RequestID)
	if errors.Is(err, request.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req.Status != request.StatusPending {
		return nil, ErrRequestUnavailable
	}

	cab, err := e.taxis.Get(ctx, cmd.TaxiID)
	if errors.Is(err, taxi.ErrNotFound) {
		return nil, ErrTaxiNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get taxi: %w", err)
	}
	if cmd.DriverID != "" && cab.DriverID != cmd.DriverID {
		return nil, ErrNotTaxiDriver
	}

	if err := e.admit(*cab, *req); err != nil {
		return nil, err
	}

	claimed, err := e.requests.TransitionPendingToAccepted(ctx, req.ID, cab.ID)
	switch {
	case errors.Is(err, request.ErrAlreadyResolved):
		return nil, ErrRequestUnavailable
	case errors.Is(err, request.ErrNotFound):
		return nil, ErrRequestNotFound
	case err != nil:
		return nil, fmt.Errorf("claim request: %w", err)
	}

	seat := e.reservesSeat(claimed.Type)
	var reason error
	updated, err := e.taxis.CompareAndMutate(ctx, cab.ID,
		func(t taxi.Taxi) bool {
			reason = e.admit(t, *claimed)
			return reason == nil
		},
		taxi.Assign(seat),
	)
	if err != nil {
		e.revert(ctx, claimed.ID, cab.ID)
		switch {
		case errors.Is(err, taxi.ErrPredicateFailed) && reason != nil:
			return nil, reason
		case errors.Is(err, taxi.ErrNotFound):
			return nil, ErrTaxiNotFound
		case errors.Is(err, taxi.ErrContended):
			return nil, ErrTaxiContended
		default:
			return nil, fmt.Errorf("reserve seat: %w", err)
		}
	}

	// A cancel that landed after the claim finds no hold and leaves the
	// assignment to us.
	unlock := e.locks.lock(claimed.ID)
	defer unlock()
	held, err := e.requests.MarkHeld(ctx, claimed.ID, cab.ID)
	if err != nil || !held {
		e.unassign(ctx, cab.ID, claimed.ID, seat)
		if err != nil {
			return nil, fmt.Errorf("hold request: %w", err)
		}
		e.logger.Info("request closed during accept", "request_id", claimed.ID, "taxi_id", cab.ID)
		return nil, ErrRequestUnavailable
	}
	claimed.Held = true

	state := taxi.StateChanged(*updated)
	e.events.PublishTaxiStateChanged(state)
	e.events.PublishRequestAccepted(events.RequestAccepted{
		RequestID:   claimed.ID,
		TaxiID:      updated.ID,
		PassengerID: claimed.PassengerID,
		Taxi:        &state,
		At:          updated.UpdatedAt,
	})
	e.logger.Info("request accepted",
		"request_id", claimed.ID, "taxi_id", updated.ID,
		"load", updated.Load, "capacity", updated.Capacity)
	return &AcceptResult{Request: claimed, Taxi: updated}, nil
}

// admit runs the route, availability, stop-order and type checks in order.
func (e *Engine) admit(t taxi.Taxi, r request.Request) error {
	if t.RouteID == "" || t.RouteID != r.RouteID {
		return ErrRouteMismatch
	}

	switch r.Type {
	case request.TypeRide:
		if t.Status != taxi.StatusAvailable || !t.AcceptingRides || !t.HasSeat() {
			return ErrTaxiNotAvailable
		}
	case request.TypePickup:
		if !e.pickupAdmits(t) {
			return ErrTaxiNotAvailableForPickup
		}
	}

	if t.CurrentStop != "" {
		ahead, err := e.routes.IsAtOrAfter(r.RouteID, r.StartStop, t.CurrentStop)
		if err != nil {
			return fmt.Errorf("stop order: %w", err)
		}
		if !ahead {
			return ErrStopAlreadyPassed
		}
	}

	if r.Type != request.TypeRide && r.Type != request.TypePickup {
		return ErrUnsupportedRequestType
	}
	return nil
}

func (e *Engine) pickupAdmits(t taxi.Taxi) bool {
	if !t.AcceptingPickups {
		return false
	}
	if e.opts.PickupPolicy == config.PickupPolicyStatus {
		return t.Status == taxi.StatusAvailable || t.Status == taxi.StatusFull
	}
	return t.Status == taxi.StatusAvailable && t.HasSeat()
}

// reservesSeat reports whether accepting a request of this type takes a seat.
func (e *Engine) reservesSeat(typ request.Type) bool {
	return typ == request.TypeRide || e.opts.PickupPolicy != config.PickupPolicyStatus
}

func (e *Engine) revert(ctx context.Context, requestID, taxiID types.ID) {
	if err := e.requests.RevertAccepted(ctx, requestID, taxiID); err != nil {
		e.logger.Error("revert accepted request failed", "request_id", requestID, "taxi_id", taxiID, "error", err)
	}
}

// unassign gives back what Assign took on the taxi and publishes the new state.
func (e *Engine) unassign(ctx context.Context, taxiID, requestID types.ID, seat bool) {
	t, err := e.taxis.CompareAndMutate(ctx, taxiID,
		func(t taxi.Taxi) bool { return t.Assigned > 0 },
		taxi.Unassign(seat),
	)
	if err != nil {
		e.logger.Warn("release taxi assignment failed", "request_id", requestID, "taxi_id", taxiID, "error", err)
		return
	}
	e.events.PublishTaxiStateChanged(taxi.StateChanged(*t))
}

// CancelRequest cancels on behalf of the passenger and frees the seat the request held.
func (e *Engine) CancelRequest(ctx context.Context, requestID, passengerID types.ID) (*request.Request, error) {
	unlock := e.locks.lock(requestID)
	defer unlock()
	r, err := e.requests.Cancel(ctx, request.CancelCommand{RequestID: requestID, PassengerID: passengerID})
	if err != nil {
		return nil, err
	}
	e.release(ctx, r)
	return r, nil
}

type CompleteCommand struct {
	RequestID types.ID
	TaxiID    types.ID
	DriverID  types.ID
}

// CompleteRequest marks the passenger dropped off and frees the seat.
func (e *Engine) CompleteRequest(ctx context.Context, cmd CompleteCommand) (*request.Request, error) {
	cab, err := e.taxis.Get(ctx, cmd.TaxiID)
	if errors.Is(err, taxi.ErrNotFound) {
		return nil, ErrTaxiNotFound
	}
	if err != nil {
		return nil, err
	}
	if cmd.DriverID != "" && cab.DriverID != cmd.DriverID {
		return nil, ErrNotTaxiDriver
	}
	unlock := e.locks.lock(cmd.RequestID)
	defer unlock()
	r, err := e.requests.Complete(ctx, request.CompleteCommand{RequestID: cmd.RequestID, TaxiID: cmd.TaxiID})
	if err != nil {
		return nil, err
	}
	e.release(ctx, r)
	return r, nil
}

// release frees the taxi side of a closed request. Only the caller that clears
// the hold touches the taxi; an accept still in flight undoes its own assignment.
func (e *Engine) release(ctx context.Context, r *request.Request) {
	if r.AcceptingTaxi == "" {
		return
	}
	ok, err := e.requests.ReleaseHold(ctx, r.ID, r.AcceptingTaxi)
	if err != nil {
		e.logger.Warn("release request hold failed", "request_id", r.ID, "taxi_id", r.AcceptingTaxi, "error", err)
		return
	}
	if ok {
		e.unassign(ctx, r.AcceptingTaxi, r.ID, e.reservesSeat(r.Type))
	}
}

type ListOptions struct {
	// RadiusKm overrides the engine filter with a radius filter when > 0.
	RadiusKm float64
	Limit    int
}

// ListForTaxi returns pending requests the taxi could accept right now, ranked.
func (e *Engine) ListForTaxi(ctx context.Context, taxiID types.ID, opts ListOptions) ([]Candidate, error) {
	cab, err := e.taxis.Get(ctx, taxiID)
	if errors.Is(err, taxi.ErrNotFound) {
		return nil, ErrTaxiNotFound
	}
	if err != nil {
		return nil, err
	}
	if cab.RouteID == "" {
		return nil, nil
	}

	taxiPos := 0
	if cab.CurrentStop != "" {
		if taxiPos, err = e.routes.StopPosition(cab.RouteID, cab.CurrentStop); err != nil {
			return nil, err
		}
	}
	origin, known := e.origin(ctx, *cab)

	pending, err := e.requests.ListPending(ctx, request.PendingFilter{
		RouteID: cab.RouteID,
		Match:   func(r request.Request) bool { return e.admit(*cab, r) == nil },
	})
	if err != nil {
		return nil, err
	}

	filter := e.opts.Filter
	if opts.RadiusKm > 0 {
		filter = WithinRadius(opts.RadiusKm)
	}

	var out []Candidate
	for r := range pending {
		st, err := e.routes.Stop(r.RouteID, r.StartStop)
		if err != nil {
			continue
		}
		c := Candidate{Request: r, StartLocation: st.Location, StopsAway: st.Seq - taxiPos, DistanceKm: -1}
		if known {
			c.DistanceKm = types.HaversineKm(origin, st.Location)
		}
		if filter != nil && !filter(*cab, c) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, e.opts.Ranker)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// origin prefers the live GPS fix and falls back to the taxi's current stop.
func (e *Engine) origin(ctx context.Context, t taxi.Taxi) (types.Point, bool) {
	if e.opts.Positions != nil {
		p, ok, err := e.opts.Positions.Position(ctx, t.ID)
		if err != nil {
			e.logger.Warn("taxi position lookup failed", "taxi_id", t.ID, "error", err)
		} else if ok {
			return p, true
		}
	}
	if t.CurrentStop == "" {
		return types.Point{}, false
	}
	st, err := e.routes.Stop(t.RouteID, t.CurrentStop)
	if err != nil {
		return types.Point{}, false
	}
	return st.Location, true
}
