package realtime

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pmelo/unibox/internal/bus"
)

// State represents the push-channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed connection state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks and enforces push-channel state transitions. Consumers
// subscribe to "realtime.state" on the bus to re-register room membership
// after a reconnect instead of assuming a connection survives forever.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithReason(to, "")
}

// TransitionWithReason is Transition with a diagnostic reason carried in
// the published event ("auth_rejected" on credential failure).
func (m *Machine) TransitionWithReason(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindRealtimeState,
			Timestamp: time.Now(),
			Payload: StateChange{
				From:   from,
				To:     to,
				Reason: reason,
			},
		})
	}
	return nil
}

// StateChange is the payload for connection state change events.
type StateChange struct {
	From   State
	To     State
	Reason string
}
