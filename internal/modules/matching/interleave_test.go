// README: Accept interleavings: cancels and competing drivers landing between the claim and the seat.
package matching

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"sharetaxi/internal/config"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

// beforeSeat runs hook once, right before the first taxi mutation.
type beforeSeat struct {
	TaxiRegistry
	hook  func()
	fired bool
}

func (b *beforeSeat) CompareAndMutate(ctx context.Context, id types.ID, pred taxi.Predicate, mut taxi.Mutation) (*taxi.Taxi, error) {
	if !b.fired {
		b.fired = true
		b.hook()
	}
	return b.TaxiRegistry.CompareAndMutate(ctx, id, pred, mut)
}

// afterSeat runs hook once, right after the first taxi mutation succeeds and
// before the accept records its hold.
type afterSeat struct {
	TaxiRegistry
	hook  func()
	fired bool
}

func (a *afterSeat) CompareAndMutate(ctx context.Context, id types.ID, pred taxi.Predicate, mut taxi.Mutation) (*taxi.Taxi, error) {
	t, err := a.TaxiRegistry.CompareAndMutate(ctx, id, pred, mut)
	if err == nil && !a.fired {
		a.fired = true
		a.hook()
	}
	return t, err
}

type contendedTaxis struct {
	TaxiRegistry
}

func (contendedTaxis) CompareAndMutate(context.Context, types.ID, taxi.Predicate, taxi.Mutation) (*taxi.Taxi, error) {
	return nil, taxi.ErrContended
}

func (f *fixture) engineWith(taxis TaxiRegistry, requests RequestStore) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(taxis, requests, f.catalog, f.pub, f.engine.opts, logger)
}

func TestAccept_CancelBeforeSeat(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()
	f.addTaxi(t, "T1", "R1", "A", 4)
	onBoard := f.addRequest(t, "P0", request.TypeRide, "R1", "A", "D")
	if _, err := f.engine.Accept(ctx, AcceptCommand{RequestID: onBoard.ID, TaxiID: "T1"}); err != nil {
		t.Fatalf("accept first rider: %v", err)
	}
	q := f.addRequest(t, "P1", request.TypeRide, "R1", "B", "D")

	var engine *Engine
	var cancelErr error
	hooked := &beforeSeat{TaxiRegistry: f.taxis}
	hooked.hook = func() { _, cancelErr = engine.CancelRequest(ctx, q.ID, "P1") }
	engine = f.engineWith(hooked, f.requests)

	_, err := engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T1"})
	if cancelErr != nil {
		t.Fatalf("cancel mid-accept: %v", cancelErr)
	}
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Fatalf("expected ErrRequestUnavailable, got %v", err)
	}

	got, _ := f.requests.Get(ctx, q.ID)
	if got.Status != request.StatusCancelled || got.Held {
		t.Fatalf("request should stay cancelled without a hold, got %+v", got)
	}
	cab := f.taxi(t, "T1")
	if cab.Load != 1 || cab.Assigned != 1 {
		t.Fatalf("only the first rider should remain, got load %d assigned %d", cab.Load, cab.Assigned)
	}
	if n := f.pub.acceptedCount(); n != 1 {
		t.Fatalf("expected only the first RequestAccepted, got %d", n)
	}
}

func TestAccept_CancelBeforeHold(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()
	f.addTaxi(t, "T1", "R1", "A", 1)
	q := f.addRequest(t, "P1", request.TypeRide, "R1", "B", "D")

	var engine *Engine
	var cancelErr error
	hooked := &afterSeat{TaxiRegistry: f.taxis}
	hooked.hook = func() { _, cancelErr = engine.CancelRequest(ctx, q.ID, "P1") }
	engine = f.engineWith(hooked, f.requests)

	_, err := engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T1"})
	if cancelErr != nil {
		t.Fatalf("cancel mid-accept: %v", cancelErr)
	}
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Fatalf("expected ErrRequestUnavailable, got %v", err)
	}

	cab := f.taxi(t, "T1")
	if cab.Load != 0 || cab.Assigned != 0 || cab.Status != taxi.StatusAvailable {
		t.Fatalf("seat should be given back, got %+v", cab)
	}
	if n := f.pub.acceptedCount(); n != 0 {
		t.Fatalf("cancelled request must not be announced, got %d RequestAccepted", n)
	}
	if err := f.taxis.Deactivate(ctx, "T1", "drv_T1"); err != nil {
		t.Fatalf("idle taxi should deactivate: %v", err)
	}
}

func TestAccept_RevertLeavesRequestOpen(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()
	f.addTaxi(t, "T1", "R1", "A", 2)
	f.addTaxi(t, "T2", "R1", "A", 2)
	q := f.addRequest(t, "P1", request.TypeRide, "R1", "B", "D")

	var rivalErr error
	hooked := &beforeSeat{TaxiRegistry: f.taxis}
	hooked.hook = func() {
		// T1 fills up and T2 tries while T1 still holds the claim.
		if _, err := f.taxis.SetLoad(ctx, taxi.SetLoadCommand{TaxiID: "T1", DriverID: "drv_T1", Load: 2}); err != nil {
			t.Errorf("fill T1: %v", err)
		}
		_, rivalErr = f.engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T2"})
	}
	engine := f.engineWith(hooked, f.requests)

	if _, err := engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T1"}); !errors.Is(err, ErrTaxiNotAvailable) {
		t.Fatalf("expected ErrTaxiNotAvailable for T1, got %v", err)
	}
	if !errors.Is(rivalErr, ErrRequestUnavailable) {
		t.Fatalf("expected T2 to lose against the claim, got %v", rivalErr)
	}

	got, _ := f.requests.Get(ctx, q.ID)
	if got.Status != request.StatusPending || got.AcceptingTaxi != "" {
		t.Fatalf("reverted request should be pending again, got %+v", got)
	}
	if _, err := f.engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T2"}); err != nil {
		t.Fatalf("retry by T2 should win: %v", err)
	}
}

func TestAccept_ContendedTaxi(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()
	f.addTaxi(t, "T1", "R1", "A", 4)
	q := f.addRequest(t, "P1", request.TypeRide, "R1", "B", "D")

	engine := f.engineWith(contendedTaxis{f.taxis}, f.requests)
	_, err := engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T1"})
	if !errors.Is(err, ErrTaxiContended) {
		t.Fatalf("expected ErrTaxiContended, got %v", err)
	}
	if Categorize(err) != CategoryRaceLost {
		t.Fatalf("contention should be retryable, got %s", Categorize(err))
	}
	got, _ := f.requests.Get(ctx, q.ID)
	if got.Status != request.StatusPending {
		t.Fatalf("claim should be reverted, got %s", got.Status)
	}
}

func TestOpenPickupBlocksRetirement(t *testing.T) {
	f := newFixture(t, config.PickupPolicyStatus)
	ctx := context.Background()
	f.addTaxi(t, "T1", "R1", "A", 2)
	p := f.addRequest(t, "P1", request.TypePickup, "R1", "B", "")

	res, err := f.engine.Accept(ctx, AcceptCommand{RequestID: p.ID, TaxiID: "T1"})
	if err != nil {
		t.Fatalf("accept pickup: %v", err)
	}
	if res.Taxi.Load != 0 || res.Taxi.Assigned != 1 {
		t.Fatalf("pickup should be assigned without a seat, got %+v", res.Taxi)
	}

	if err := f.taxis.Deactivate(ctx, "T1", "drv_T1"); !errors.Is(err, taxi.ErrBusy) {
		t.Fatalf("expected ErrBusy on deactivate, got %v", err)
	}
	_, err = f.taxis.AssignRoute(ctx, taxi.AssignRouteCommand{TaxiID: "T1", DriverID: "drv_T1", RouteID: "R2", StartStop: "X"})
	if !errors.Is(err, taxi.ErrBusy) {
		t.Fatalf("expected ErrBusy on route change, got %v", err)
	}

	if _, err := f.engine.CompleteRequest(ctx, CompleteCommand{RequestID: p.ID, TaxiID: "T1", DriverID: "drv_T1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if cab := f.taxi(t, "T1"); !cab.Idle() {
		t.Fatalf("taxi should be idle after completion, got %+v", cab)
	}
	if err := f.taxis.Deactivate(ctx, "T1", "drv_T1"); err != nil {
		t.Fatalf("deactivate idle taxi: %v", err)
	}
}

func TestAcceptCancel_EventOrder(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	ctx := context.Background()
	const rounds = 30
	f.addTaxi(t, "T1", "R1", "A", rounds+1)

	for i := 0; i < rounds; i++ {
		passenger := types.ID(fmt.Sprintf("P%d", i))
		q := f.addRequest(t, passenger, request.TypeRide, "R1", "B", "D")

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, _ = f.engine.Accept(ctx, AcceptCommand{RequestID: q.ID, TaxiID: "T1"})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _ = f.engine.CancelRequest(ctx, q.ID, passenger)
		}()
		close(start)
		wg.Wait()
	}

	f.pub.mu.Lock()
	order := slices.Clone(f.pub.order)
	f.pub.mu.Unlock()
	for _, ev := range order {
		id, found := strings.CutPrefix(ev, "closed:")
		if !found {
			continue
		}
		closedAt := slices.Index(order, ev)
		if acceptedAt := slices.Index(order, "accepted:"+id); acceptedAt > closedAt {
			t.Fatalf("request %s announced accepted after it closed: %v", id, order)
		}
	}

	// Every acceptance that was not followed by a close still holds its seat.
	stillOpen := 0
	for _, ev := range order {
		if id, ok := strings.CutPrefix(ev, "accepted:"); ok && !slices.Contains(order, "closed:"+id) {
			stillOpen++
		}
	}
	cab := f.taxi(t, "T1")
	if cab.Assigned != stillOpen || cab.Load != stillOpen {
		t.Fatalf("taxi should hold exactly the %d open acceptances, got load %d assigned %d", stillOpen, cab.Load, cab.Assigned)
	}
}
