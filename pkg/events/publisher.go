package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber queue capacity.
const DefaultQueueSize = 200

// Bus is the external, optional fan-out path. A nil Bus, or
// one constructed with Enabled()==false, makes the external path a no-op.
type Bus interface {
	Enabled() bool
	Publish(ctx context.Context, evt Event) error
}

// Publisher fans out Events to bounded in-process subscriber queues and,
// when a Bus is configured, to a durable external topic. A single slow
// subscriber never blocks another subscriber or the producer: a full queue
// drops its oldest message to admit the new one.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	size int
	bus  Bus
}

// NewPublisher constructs a Publisher with the given per-subscriber queue
// size (0 uses DefaultQueueSize) and an optional external Bus.
func NewPublisher(queueSize int, bus Bus) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if bus == nil {
		bus = disabledBus{}
	} else if !bus.Enabled() {
		slog.Warn("events: external bus unconfigured, publishing is in-process only")
	}
	return &Publisher{
		subs: make(map[string]chan Event),
		size: queueSize,
		bus:  bus,
	}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and a receive-only channel of Events.
func (p *Publisher) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, p.size)
	p.mu.Lock()
	p.subs[id] = ch
	p.mu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber's queue.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	ch, ok := p.subs[id]
	if ok {
		delete(p.subs, id)
	}
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// SubscriberCount reports the current number of subscribers (used by tests
// and health checks).
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Publish posts evt to every current subscriber, non-blockingly, and to the
// external bus when configured. Bus failures are logged and swallowed —
// pipeline events are ephemeral UI updates, not a durability guarantee.
func (p *Publisher) Publish(ctx context.Context, evt Event) {
	p.mu.RLock()
	chans := make([]chan Event, 0, len(p.subs))
	for _, ch := range p.subs {
		chans = append(chans, ch)
	}
	p.mu.RUnlock()

	for _, ch := range chans {
		postNonBlocking(ch, evt)
	}

	if err := p.bus.Publish(ctx, evt); err != nil {
		slog.Warn("events: external bus publish failed", "event_type", evt.Type, "error", err)
	}
}

// postNonBlocking admits evt to ch, dropping the oldest queued item first
// if ch is full. The drop-then-send is best-effort: if another goroutine
// drains the freed slot first, the second send attempt simply queues
// normally. A final non-blocking attempt after one retry avoids spinning
// indefinitely under pathological concurrent contention.
func postNonBlocking(ch chan Event, evt Event) {
	select {
	case ch <- evt:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- evt:
	default:
	}
}

// disabledBus is the Bus NewPublisher substitutes for a nil Bus: Enabled()
// is false and Publish is a pure no-op. NewPublisher logs no warning in
// that case; its single startup warning is only for a non-nil Bus whose
// Enabled() is false.
type disabledBus struct{}

func (disabledBus) Enabled() bool                        { return false }
func (disabledBus) Publish(context.Context, Event) error { return nil }
