package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharetaxi/internal/modules/route"
	"sharetaxi/internal/types"
	"sharetaxi/testutil"
)

func newPGStore(t *testing.T) *PGStore {
	t.Helper()
	pool := testutil.NewPool(t, "request_state_events", "ride_requests", "taxis", "route_stops", "routes")
	err := route.NewStore(pool).Save(context.Background(), route.Route{
		ID: "R1", Stops: []route.Stop{{ID: "A"}, {ID: "B"}, {ID: "C"}},
	})
	require.NoError(t, err)
	return NewPGStore(pool)
}

func pendingRequest(id, passenger types.ID) *Request {
	return &Request{
		ID: id, PassengerID: passenger, Type: TypeRide, RouteID: "R1",
		StartStop: "A", DestStop: "C", Status: StatusPending,
		EstimatedFare: types.Money{Amount: 30, Currency: "TWD"},
		CreatedAt:     time.Now(),
	}
}

func TestPGStore_CreateGet(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pendingRequest("Q1", "P1")))
	got, err := store.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.EqualValues(t, "C", got.DestStop)
	assert.Equal(t, int64(30), got.EstimatedFare.Amount)
	assert.Empty(t, got.AcceptingTaxi)
	assert.False(t, got.Held)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStore_OneActiveRequestPerPassenger(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	first := pendingRequest("Q1", "P1")
	require.NoError(t, store.Create(ctx, first))
	assert.ErrorIs(t, store.Create(ctx, pendingRequest("Q2", "P1")), ErrActiveRequest)
	assert.ErrorIs(t, store.Create(ctx, pendingRequest("Q1", "P2")), ErrConflict)

	ok, err := store.UpdateStatus(ctx, "Q1", StatusPending, StatusCancelled, first.Version, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, store.Create(ctx, pendingRequest("Q2", "P1")), "a closed request frees the passenger")
}

func TestPGStore_ConcurrentClaims(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, pendingRequest("Q1", "P1")))

	const attempts = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	winners := make(chan types.ID, attempts)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(taxiID types.ID) {
			defer wg.Done()
			<-start
			if _, err := store.TransitionPendingToAccepted(ctx, "Q1", taxiID, time.Now()); err != nil {
				errs <- err
				return
			}
			winners <- taxiID
		}(types.ID(fmt.Sprintf("T%d", i)))
	}
	close(start)
	wg.Wait()
	close(errs)
	close(winners)

	for err := range errs {
		if !errors.Is(err, ErrAlreadyResolved) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	var won []types.ID
	for w := range winners {
		won = append(won, w)
	}
	require.Len(t, won, 1)

	got, err := store.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, won[0], got.AcceptingTaxi)
	assert.NotNil(t, got.AcceptedAt)

	_, err = store.TransitionPendingToAccepted(ctx, "missing", "T1", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStore_HoldAndRevert(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, pendingRequest("Q1", "P1")))
	_, err := store.TransitionPendingToAccepted(ctx, "Q1", "T1", time.Now())
	require.NoError(t, err)

	ok, err := store.RevertAccepted(ctx, "Q1", "T2")
	require.NoError(t, err)
	assert.False(t, ok, "only the claiming taxi can revert")

	ok, err = store.MarkHeld(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.MarkHeld(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.False(t, ok, "hold is taken once")

	ok, err = store.RevertAccepted(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.False(t, ok, "a held request is not reverted")

	ok, err = store.ReleaseHold(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.ReleaseHold(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.False(t, ok, "hold is released once")

	ok, err = store.RevertAccepted(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := store.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.AcceptingTaxi)
	assert.Nil(t, got.AcceptedAt)

	_, err = store.MarkHeld(ctx, "missing", "T1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStore_HoldAfterClose(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, pendingRequest("Q1", "P1")))
	claimed, err := store.TransitionPendingToAccepted(ctx, "Q1", "T1", time.Now())
	require.NoError(t, err)

	ok, err := store.UpdateStatus(ctx, "Q1", StatusAccepted, StatusCancelled, claimed.Version, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.MarkHeld(ctx, "Q1", "T1")
	require.NoError(t, err)
	assert.False(t, ok, "a cancelled request cannot be held")

	ok, err = store.UpdateStatus(ctx, "Q1", StatusAccepted, StatusCompleted, claimed.Version, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "stale version loses")

	got, err := store.Get(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.ClosedAt)
}
