package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	states   []TaxiStateChanged
	accepted []RequestAccepted
	closed   []RequestClosed
	block    chan struct{}
}

func (h *recordingHandler) HandleTaxiStateChanged(ev TaxiStateChanged) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ev)
}

func (h *recordingHandler) HandleRequestAccepted(ev RequestAccepted) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepted = append(h.accepted, ev)
}

func (h *recordingHandler) HandleRequestClosed(ev RequestClosed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, ev)
}

func (h *recordingHandler) counts() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states), len(h.accepted), len(h.closed)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(8, discardLogger())
	a, b := &recordingHandler{}, &recordingHandler{}
	bus.Subscribe("a", a)
	bus.Subscribe("b", b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.PublishTaxiStateChanged(TaxiStateChanged{TaxiID: "t1", Version: 1})
	bus.PublishRequestAccepted(RequestAccepted{RequestID: "r1", TaxiID: "t1"})
	bus.PublishRequestClosed(RequestClosed{RequestID: "r1", Status: "completed"})

	for _, h := range []*recordingHandler{a, b} {
		require.Eventually(t, func() bool {
			s, acc, c := h.counts()
			return s == 1 && acc == 1 && c == 1
		}, time.Second, 5*time.Millisecond)
	}
}

func TestBus_PublishNeverBlocksWhenQueueFull(t *testing.T) {
	bus := NewBus(1, discardLogger())
	h := &recordingHandler{block: make(chan struct{})}
	bus.Subscribe("slow", h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.PublishTaxiStateChanged(TaxiStateChanged{TaxiID: "t1", Version: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(h.block)

	require.Eventually(t, func() bool {
		s, _, _ := h.counts()
		return s >= 1
	}, time.Second, 5*time.Millisecond)
	s, _, _ := h.counts()
	assert.Less(t, s, 50, "events beyond the queue bound should be dropped")
}

type panickingHandler struct{ recordingHandler }

func (h *panickingHandler) HandleRequestAccepted(RequestAccepted) { panic("boom") }

func TestBus_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(8, discardLogger())
	h := &panickingHandler{}
	bus.Subscribe("panicky", h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.PublishRequestAccepted(RequestAccepted{RequestID: "r1"})
	bus.PublishTaxiStateChanged(TaxiStateChanged{TaxiID: "t1"})

	require.Eventually(t, func() bool {
		s, _, _ := h.counts()
		return s == 1
	}, time.Second, 5*time.Millisecond)
}
