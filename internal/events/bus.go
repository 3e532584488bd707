package events

import (
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Handler consumes a single event. Handlers must not block indefinitely:
// they share the ordered delivery goroutine for their key.
type Handler func(Event)

// Bus is an in-process event dispatcher. Events that share an ordering
// key are processed by a single goroutine in emission order; events with
// different keys run in parallel. This gives the per-pool single-consumer
// discipline the spread controller depends on without serializing the
// whole venue.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[Name][]Handler
	queues    map[string]chan Event
	queueSize int
	closed    bool
	workers   errgroup.Group
}

// NewBus creates a bus whose per-key queues buffer up to queueSize events.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		handlers:  make(map[Name][]Handler),
		queues:    make(map[string]chan Event),
		queueSize: queueSize,
	}
}

// Subscribe registers a handler for the given event name. Subscriptions
// are expected to happen at wiring time, before events flow.
func (b *Bus) Subscribe(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish enqueues the event on its key's ordered queue. Publishing to a
// closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	q, ok := b.queues[ev.Key()]
	if !ok {
		q = make(chan Event, b.queueSize)
		b.queues[ev.Key()] = q
		b.workers.Go(func() error {
			for queued := range q {
				b.dispatch(queued)
			}
			return nil
		})
	}
	b.mu.Unlock()

	select {
	case q <- ev:
	default:
		// Queue overflow: drop rather than block the publisher. Pool
		// metrics are advisory and recomputed on the next signal.
		log.Warn().
			Str("event", string(ev.EventName())).
			Str("key", ev.Key()).
			Msg("event queue full, dropping event")
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.EventName()]
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(ev.EventName())).
						Str("key", ev.Key()).
						Interface("panic", r).
						Msg("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}

// Close stops accepting events and waits for all queues to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	_ = b.workers.Wait()
}
