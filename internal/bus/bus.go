package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus. Subscribers register a
// namespace prefix; publish is non-blocking and drops events for subscribers
// whose buffer is full, so a stalled UI can never back-pressure the core.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is one registered listener. Receive from C; call Cancel when
// done. C is never closed so a racing Publish cannot panic.
type Subscription struct {
	C chan Event

	bus       *Bus
	namespace string
	once      sync.Once
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a listener for events whose Kind starts with namespace.
// An empty namespace receives everything.
func (b *Bus) Subscribe(namespace string, buffer int) *Subscription {
	sub := &Subscription{
		C:         make(chan Event, buffer),
		bus:       b,
		namespace: namespace,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers evt to every matching subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.C <- evt:
			default:
				// Subscriber buffer full; drop rather than stall the core.
			}
		}
	}
}
