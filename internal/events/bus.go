// README: Asynchronous event bus; one bounded queue and goroutine per subscriber.
package events

import (
	"context"
	"log/slog"
	"sync"
)

type subscription struct {
	name    string
	handler Handler
	queue   chan any
}

type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	logger     *slog.Logger
}

func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Bus{
		bufferSize: bufferSize,
		logger:     logger.With("component", "event_bus"),
	}
}

// Subscribe registers a handler. It must be called before Run.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, &subscription{
		name:    name,
		handler: h,
		queue:   make(chan any, b.bufferSize),
	})
}

// Run delivers queued events to subscribers until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			b.loop(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (b *Bus) PublishTaxiStateChanged(ev TaxiStateChanged) { b.publish(TypeTaxiStateChanged, ev) }
func (b *Bus) PublishRequestAccepted(ev RequestAccepted)   { b.publish(TypeRequestAccepted, ev) }
func (b *Bus) PublishRequestClosed(ev RequestClosed)       { b.publish(TypeRequestClosed, ev) }

func (b *Bus) publish(t Type, ev any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.queue <- ev:
		default:
			b.logger.Warn("event queue full, dropping event", "subscriber", s.name, "type", t)
		}
	}
}

func (b *Bus) loop(ctx context.Context, s *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			b.dispatch(s, ev)
		}
	}
}

func (b *Bus) dispatch(s *subscription, ev any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "subscriber", s.name, "panic", r)
		}
	}()
	switch e := ev.(type) {
	case TaxiStateChanged:
		s.handler.HandleTaxiStateChanged(e)
	case RequestAccepted:
		s.handler.HandleRequestAccepted(e)
	case RequestClosed:
		s.handler.HandleRequestClosed(e)
	}
}
