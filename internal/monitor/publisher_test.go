package monitor

import (
	"testing"
)

func TestPublisher_DeliversInSubscriptionOrder(t *testing.T) {
	p := NewPublisher()

	var order []int
	p.Subscribe(func(Snapshot) { order = append(order, 1) })
	p.Subscribe(func(Snapshot) { order = append(order, 2) })
	p.Subscribe(func(Snapshot) { order = append(order, 3) })

	p.Publish(Snapshot{Version: 1})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestPublisher_Unsubscribe(t *testing.T) {
	p := NewPublisher()

	var a, b int
	idA := p.Subscribe(func(Snapshot) { a++ })
	p.Subscribe(func(Snapshot) { b++ })

	p.Publish(Snapshot{Version: 1})
	p.Unsubscribe(idA)
	p.Publish(Snapshot{Version: 2})

	if a != 1 {
		t.Errorf("unsubscribed handler called %d times, want 1", a)
	}
	if b != 2 {
		t.Errorf("remaining handler called %d times, want 2", b)
	}

	// Unknown ids are ignored.
	p.Unsubscribe(999)
	if p.Len() != 1 {
		t.Errorf("subscriptions = %d, want 1", p.Len())
	}
}

func TestPublisher_PanickingHandlerIsIsolated(t *testing.T) {
	p := NewPublisher()

	var delivered int
	p.Subscribe(func(Snapshot) { panic("handler bug") })
	p.Subscribe(func(Snapshot) { delivered++ })

	p.Publish(Snapshot{Version: 1})
	p.Publish(Snapshot{Version: 2})

	if delivered != 2 {
		t.Errorf("handler after panicking one called %d times, want 2", delivered)
	}
}

func TestPublisher_LateSubscriberSeesOnlyFutureMerges(t *testing.T) {
	p := NewPublisher()

	p.Publish(Snapshot{Version: 1})

	var seen []uint64
	p.Subscribe(func(s Snapshot) { seen = append(seen, s.Version) })

	p.Publish(Snapshot{Version: 2})

	if len(seen) != 1 || seen[0] != 2 {
		t.Errorf("late subscriber saw %v, want [2]", seen)
	}
}
