// Package events fans domain events out to operator-facing sinks.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ernie/whitelist-warden/internal/domain"
)

// Sink receives every published event. Publish must not block for long.
type Sink interface {
	Publish(event domain.Event)
}

// Bus queues events and delivers them to its sinks from one goroutine, so
// producers never wait on a slow consumer. Events published while the
// queue is full are dropped.
type Bus struct {
	sinks []Sink
	queue chan domain.Event
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a bus and starts delivery
func NewBus(log *zap.Logger, sinks ...Sink) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		sinks: sinks,
		queue: make(chan domain.Event, 256),
		log:   log.Named("events"),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Publish queues an event without blocking
func (b *Bus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.queue <- event:
	default:
		b.log.Warn("event queue full, dropping event", zap.String("event", event.Type))
	}
}

// Close delivers queued events and stops the bus
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()
	for event := range b.queue {
		for _, s := range b.sinks {
			b.deliver(s, event)
		}
	}
}

func (b *Bus) deliver(s Sink, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event sink panicked", zap.String("event", event.Type), zap.Any("panic", r))
		}
	}()
	s.Publish(event)
}
