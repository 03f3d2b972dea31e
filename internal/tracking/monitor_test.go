package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

type oneTaxi struct{ t taxi.Taxi }

func (o oneTaxi) Get(_ context.Context, id types.ID) (*taxi.Taxi, error) {
	if id != o.t.ID {
		return nil, taxi.ErrNotFound
	}
	cp := o.t
	return &cp, nil
}

type fixedPosition struct {
	p   types.Point
	err error
}

func (f fixedPosition) Position(context.Context, types.ID) (types.Point, bool, error) {
	return f.p, f.err == nil, f.err
}

func TestMonitor_Snapshot(t *testing.T) {
	cab := taxi.Taxi{ID: "T1", RouteID: "R1", CurrentStop: "B", Status: taxi.StatusAvailable, Load: 1, Capacity: 4, Version: 7}
	ctx := context.Background()

	snap, err := NewMonitor(oneTaxi{cab}, nil).Snapshot(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "available", snap.Status)
	assert.Equal(t, int64(7), snap.Version)
	assert.Nil(t, snap.Position)

	snap, err = NewMonitor(oneTaxi{cab}, fixedPosition{p: types.Point{Lat: 25, Lng: 121}}).Snapshot(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, snap.Position)
	assert.Equal(t, 25.0, snap.Position.Lat)

	snap, err = NewMonitor(oneTaxi{cab}, fixedPosition{err: errors.New("redis down")}).Snapshot(ctx, "T1")
	require.NoError(t, err)
	assert.Nil(t, snap.Position)

	_, err = NewMonitor(oneTaxi{cab}, nil).Snapshot(ctx, "T9")
	assert.ErrorIs(t, err, taxi.ErrNotFound)
}
