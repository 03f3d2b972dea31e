// README: Concurrency tests for the accept protocol (run with -race).
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sharetaxi/internal/config"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/types"
)

func TestConcurrentAcceptSameRequest(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()

	const attempts = 10
	for i := 0; i < attempts; i++ {
		f.addTaxi(t, types.ID(fmt.Sprintf("T%d", i)), "R1", "A", 4)
	}
	q := f.addRequest(t, "P1", request.TypeRide, "R1", "B", "D")

	var wg sync.WaitGroup
	start := make(chan struct{})
	winners := make(chan types.ID, attempts)
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(taxiID types.ID) {
			defer wg.Done()
			<-start
			if _, err := f.engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: taxiID}); err != nil {
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
		if !errors.Is(err, ErrRequestUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	var won []types.ID
	for w := range winners {
		won = append(won, w)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(won))
	}

	got, err := f.requests.Get(ctx, q.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.AcceptingTaxi != won[0] {
		t.Fatalf("accepting taxi = %s, want winner %s", got.AcceptingTaxi, won[0])
	}

	total := 0
	for i := 0; i < attempts; i++ {
		total += f.taxi(t, types.ID(fmt.Sprintf("T%d", i))).Load
	}
	if total != 1 {
		t.Fatalf("expected exactly one seat taken across all taxis, got %d", total)
	}
	if n := f.pub.acceptedCount(); n != 1 {
		t.Fatalf("expected 1 RequestAccepted event, got %d", n)
	}
}

func TestConcurrentAcceptsRespectCapacity(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()
	const capacity = 3
	f.addTaxi(t, "T1", "R1", "A", capacity)

	const attempts = 12
	reqs := make([]*request.Request, attempts)
	for i := range reqs {
		typ, dest := request.TypeRide, types.ID("D")
		if i%2 == 1 {
			typ, dest = request.TypePickup, ""
		}
		reqs[i] = f.addRequest(t, types.ID(fmt.Sprintf("P%d", i)), typ, "R1", "B", dest)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, attempts)
	for _, r := range reqs {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			<-start
			_, err := f.engine.Accept(ctx, AcceptCommand{RequestID: id, TaxiID: "T1"})
			errs <- err
		}(r.ID)
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTaxiNotAvailable), errors.Is(err, ErrTaxiNotAvailableForPickup):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != capacity {
		t.Fatalf("expected %d accepts, got %d", capacity, success)
	}

	cab := f.taxi(t, "T1")
	if cab.Load != capacity {
		t.Fatalf("load = %d, want %d", cab.Load, capacity)
	}

	accepted := 0
	for _, r := range reqs {
		got, err := f.requests.Get(ctx, r.ID)
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		switch got.Status {
		case request.StatusAccepted:
			accepted++
		case request.StatusPending:
			if got.AcceptingTaxi != "" {
				t.Fatalf("reverted request kept its taxi: %+v", got)
			}
		default:
			t.Fatalf("unexpected status %s", got.Status)
		}
	}
	if accepted != capacity {
		t.Fatalf("expected %d accepted requests, got %d", capacity, accepted)
	}
}
