package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/feiramob/chatcore/internal/bus"
)

// State is the transport session's connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	// Suppressed means the reconnect loop is stopped because the server
	// replaced this session with a newer login; only a manual connect leaves it.
	Suppressed State = "SUPPRESSED"
)

var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected, Suppressed},
	Connected:    {Reconnecting, Disconnected, Suppressed},
	Reconnecting: {Connecting, Disconnected, Suppressed},
	Suppressed:   {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions, publishing
// session.status_changed on every change.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the session is live.
func (m *Machine) IsConnected() bool { return m.Current() == Connected }

// IsReconnecting reports whether the session dropped and is trying to return.
func (m *Machine) IsReconnecting() bool {
	s := m.Current()
	return s == Reconnecting
}

// Transition moves to a new state. Returns an error if the move is not in the
// transition table; the state is left untouched in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Now(bus.KindStatusChanged, StatusChange{From: from, To: to}))
	}
	return nil
}
