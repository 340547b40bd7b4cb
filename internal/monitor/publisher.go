package monitor

import (
	"fmt"
	"sync"

	"github.com/steamwatch/steamwatch/internal/events"
)

// SnapshotHandler receives the canonical snapshot after every successful
// merge. Handlers run on the engine's delivery path and must not block
// materially; the snapshot is a private copy and safe to retain.
type SnapshotHandler func(snap Snapshot)

// Publisher broadcasts merged snapshots to subscribers in subscription
// order. Delivery is at-least-once per merge. A panicking handler is
// recovered and logged so it cannot starve other subscribers or crash the
// scheduler. Late subscribers receive only future merges; there is no
// replay.
type Publisher struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int64
}

type subscriber struct {
	id      int64
	handler SnapshotHandler
}

// NewPublisher returns a publisher with no subscribers.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Subscribe registers a handler and returns its subscription id.
func (p *Publisher) Subscribe(h SnapshotHandler) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	p.subs = append(p.subs, subscriber{id: p.nextID, handler: h})
	return p.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (p *Publisher) Unsubscribe(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of active subscriptions.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Publish delivers the snapshot to every subscriber in call order.
func (p *Publisher) Publish(snap Snapshot) {
	p.mu.Lock()
	subs := make([]subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		p.deliver(s, snap)
	}
}

func (p *Publisher) deliver(s subscriber, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			events.GetGlobalEventLogger().LogSubscriberPanic(s.id, fmt.Sprint(r))
		}
	}()

	s.handler(snap)
}
