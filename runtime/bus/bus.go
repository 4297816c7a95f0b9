package bus

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes pipeline events to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and subscription Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine and
	// iteration stops at the first subscriber error, so ordering guarantees
	// between related events (a workflow completion and the session update it
	// causes) hold per publisher.
	Bus interface {
		// Publish delivers the event to every currently registered subscriber
		// in registration order, stopping at the first subscriber error. The
		// context is forwarded to each subscriber.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister. Returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events. Implementations must be
	// thread-safe when registered with multiple buses. HandleEvent should
	// return an error only when processing fails in a way that should halt
	// the publisher; non-critical failures should be logged and swallowed so
	// other subscribers still receive the event.
	Subscriber interface {
		// HandleEvent processes a single event. The context originates from
		// the Publish call and may carry deadlines or cancellation.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration. Close removes the
	// subscriber; it is idempotent and thread-safe.
	Subscription interface {
		// Close removes the subscriber from the bus. In-flight events may
		// still be delivered if Close races a Publish. Always returns nil.
		Close() error
	}

	bus struct {
		mu sync.RWMutex
		// ordered preserves registration order for deterministic delivery.
		ordered []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// New constructs an in-memory event bus ready for immediate use. Delivery is
// synchronous fan-out: each registered subscriber receives the event in
// registration order, and the first subscriber error stops delivery and is
// returned to the publisher. Late subscribers do not replay past events.
func New() Bus {
	return &bus{}
}

// Publish delivers the event to a snapshot of the current subscribers, so
// registrations and unregistrations during delivery do not affect it.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.ordered))
	copy(subs, b.ordered)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a subscriber to the bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.ordered = append(b.ordered, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, cur := range s.bus.ordered {
			if cur == s {
				s.bus.ordered = append(s.bus.ordered[:i], s.bus.ordered[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
