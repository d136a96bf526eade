package badge

import (
	"strings"
	"sync"

	"github.com/feiramob/chatcore/internal/bus"
)

// Counters tracks the notification and order badge totals pushed by the
// server. The notification total can be replaced wholesale (server-provided
// count) or bumped per pushed notification.
type Counters struct {
	mu            sync.RWMutex
	notifications int
	orders        int

	bus *bus.Bus
}

// Snapshot is the payload published on badge.updated events.
type Snapshot struct {
	Notifications int `json:"notifications"`
	Orders        int `json:"orders"`
}

// New creates zeroed counters.
func New(b *bus.Bus) *Counters {
	return &Counters{bus: b}
}

// SetNotifications replaces the notification badge with the server total.
func (c *Counters) SetNotifications(n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	c.notifications = n
	c.mu.Unlock()
	c.publish()
}

// NotifyNew bumps the notification badge for one pushed notification. A
// category carrying an order marker also bumps the orders badge.
func (c *Counters) NotifyNew(category string) {
	c.mu.Lock()
	c.notifications++
	if isOrderCategory(category) {
		c.orders++
	}
	c.mu.Unlock()
	c.publish()
}

// Current returns the badge totals.
func (c *Counters) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{Notifications: c.notifications, Orders: c.orders}
}

func (c *Counters) publish() {
	if c.bus != nil {
		c.bus.Publish(bus.Now(bus.KindBadgeUpdated, c.Current()))
	}
}

// The backend labels order notifications in both English and Portuguese
// category strings.
func isOrderCategory(category string) bool {
	lower := strings.ToLower(category)
	return strings.Contains(lower, "order") || strings.Contains(lower, "pedido")
}
