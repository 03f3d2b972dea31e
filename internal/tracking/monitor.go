// README: Monitor entry point returning a taxi's current state before live updates stream.
package tracking

import (
	"context"

	"sharetaxi/internal/events"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

type TaxiSource interface {
	Get(ctx context.Context, id types.ID) (*taxi.Taxi, error)
}

type PositionSource interface {
	Position(ctx context.Context, id types.ID) (types.Point, bool, error)
}

// Monitor builds snapshots in the same shape as the taxi_state stream.
type Monitor struct {
	taxis     TaxiSource
	positions PositionSource
}

// NewMonitor accepts a nil positions source when live GPS is not configured.
func NewMonitor(taxis TaxiSource, positions PositionSource) *Monitor {
	return &Monitor{taxis: taxis, positions: positions}
}

// Snapshot returns taxi.ErrNotFound for unknown or retired taxis. A failed
// position lookup leaves Position empty.
func (m *Monitor) Snapshot(ctx context.Context, taxiID types.ID) (events.TaxiStateChanged, error) {
	t, err := m.taxis.Get(ctx, taxiID)
	if err != nil {
		return events.TaxiStateChanged{}, err
	}
	snap := taxi.StateChanged(*t)
	if m.positions != nil {
		if p, ok, err := m.positions.Position(ctx, taxiID); err == nil && ok {
			snap.Position = &p
		}
	}
	return snap, nil
}
