// README: Location service ingests driver GPS fixes and answers nearby-taxi queries.
package location

import (
	"context"
	"errors"
	"log/slog"

	"sharetaxi/internal/events"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

var (
	ErrBadPosition = errors.New("position out of range")
	ErrForbidden   = errors.New("taxi belongs to another driver")
)

type TaxiReader interface {
	Get(ctx context.Context, id types.ID) (*taxi.Taxi, error)
}

type Service struct {
	store  Store
	taxis  TaxiReader
	events events.Publisher
	logger *slog.Logger
}

func NewService(store Store, taxis TaxiReader, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{store: store, taxis: taxis, events: pub, logger: logger.With("component", "location")}
}

// Update stores a fix and pushes the taxi state with its new position.
// Out-of-order fixes are acknowledged but not applied.
func (s *Service) Update(ctx context.Context, u Update) (Result, error) {
	if !validPoint(u.Position) {
		return Result{}, ErrBadPosition
	}
	cab, err := s.taxis.Get(ctx, u.TaxiID)
	if err != nil {
		return Result{}, err
	}
	if u.DriverID != "" && cab.DriverID != u.DriverID {
		return Result{}, ErrForbidden
	}
	applied, err := s.store.SetPosition(ctx, u.TaxiID, u.Position, u.Seq)
	if err != nil {
		return Result{}, err
	}
	if !applied {
		return Result{Accepted: false, Reason: "stale_seq"}, nil
	}
	ev := taxi.StateChanged(*cab)
	pos := u.Position
	ev.Position = &pos
	if !u.RecordedAt.IsZero() {
		ev.At = u.RecordedAt
	}
	s.events.PublishTaxiStateChanged(ev)
	return Result{Accepted: true}, nil
}

func (s *Service) Position(ctx context.Context, taxiID types.ID) (types.Point, bool, error) {
	return s.store.Position(ctx, taxiID)
}

// Nearby lists active taxis around p, closest first. Taxis that are gone are skipped.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if !validPoint(p) || radiusKm <= 0 {
		return nil, ErrBadPosition
	}
	found, err := s.store.Nearby(ctx, p, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, n := range found {
		cab, err := s.taxis.Get(ctx, n.TaxiID)
		if errors.Is(err, taxi.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n.Status = string(cab.Status)
		n.RouteID = cab.RouteID
		n.Load = cab.Load
		n.Capacity = cab.Capacity
		out = append(out, n)
	}
	return out, nil
}

func (s *Service) Forget(ctx context.Context, taxiID types.ID) {
	if err := s.store.Remove(ctx, taxiID); err != nil {
		s.logger.Warn("remove taxi position failed", "taxi_id", taxiID, "error", err)
	}
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
