package watchdog

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultRelayQueue is the number of events a Relay holds before dropping.
const DefaultRelayQueue = 256

// EventHandler is a callback for controller events.
type EventHandler func(Event)

// Subscriber is a source of events. Implemented by EventBus and Relay.
type Subscriber interface {
	Subscribe(EventHandler) func()
}

// EventBus fans controller events out to subscribers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[uint64]EventHandler
	nextID   uint64
	log      zerolog.Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(log zerolog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[uint64]EventHandler),
		log:      log,
	}
}

// Subscribe registers a handler for every event.
// Returns an unsubscribe function.
func (eb *EventBus) Subscribe(h EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.handlers[id] = h
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers, id)
	}
}

// Emit calls every handler synchronously, in no particular order.
// A panicking handler is recovered and logged.
func (eb *EventBus) Emit(e Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers))
	for _, h := range eb.handlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.log.Error().Str("type", string(e.Type)).Interface("panic", r).Msg("event handler panic")
				}
			}()
			h(e)
		}()
	}
}

// Relay re-delivers events from a source on its own goroutine, in the
// order the source emitted them. Handing an event to a Relay never
// blocks: when the queue is full the event is dropped and counted.
type Relay struct {
	bus     *EventBus
	queue   chan Event
	stop    chan struct{}
	done    chan struct{}
	unsub   func()
	once    sync.Once
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewRelay subscribes to src and starts delivering. A size <= 0 means
// DefaultRelayQueue. Close stops it.
func NewRelay(src Subscriber, size int, log zerolog.Logger) *Relay {
	if size <= 0 {
		size = DefaultRelayQueue
	}
	r := &Relay{
		bus:   NewEventBus(log),
		queue: make(chan Event, size),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
	go r.run()
	r.unsub = src.Subscribe(r.enqueue)
	return r
}

// Subscribe registers h to run on the relay goroutine.
func (r *Relay) Subscribe(h EventHandler) func() {
	return r.bus.Subscribe(h)
}

// Dropped reports how many events were lost to a full queue.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Close unsubscribes from the source, delivers what is already queued
// and waits for the relay goroutine to exit. Safe to call multiple times.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.unsub()
		close(r.stop)
	})
	<-r.done
}

func (r *Relay) enqueue(e Event) {
	select {
	case r.queue <- e:
	default:
		n := r.dropped.Add(1)
		r.log.Warn().Str("type", string(e.Type)).Uint64("dropped", n).Msg("event queue full, dropping event")
	}
}

func (r *Relay) run() {
	defer close(r.done)
	for {
		select {
		case e := <-r.queue:
			r.bus.Emit(e)
		case <-r.stop:
			for {
				select {
				case e := <-r.queue:
					r.bus.Emit(e)
				default:
					return
				}
			}
		}
	}
}
