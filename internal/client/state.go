package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// State is a registration state of a Session.
type State string

// Session states.
const (
	StateUnregistered  State = "unregistered"
	StateRegistering   State = "registering"
	StateRegistered    State = "registered"
	StateDeregistering State = "deregistering"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// subscriberBuffer is the channel capacity of each Subscribe channel.
const subscriberBuffer = 16

// transitions lists the states reachable from each state. A registered
// session may go back to registering when the server lost its registration.
var transitions = map[State][]State{
	StateUnregistered:  {StateRegistering},
	StateRegistering:   {StateRegistered, StateFailed},
	StateRegistered:    {StateDeregistering, StateRegistering, StateFailed},
	StateDeregistering: {StateStopped},
	StateStopped:       {StateRegistering},
	StateFailed:        {StateRegistering},
}

// StateMachine holds a session state and notifies waiters of every change.
//
// All public methods are thread-safe.
type StateMachine struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}

	subs   map[int]chan State
	nextID int
}

// NewStateMachine creates a machine in StateUnregistered.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		state:   StateUnregistered,
		changed: make(chan struct{}),
		subs:    make(map[int]chan State),
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to state to. It returns ErrInvalidTransition when to is
// not reachable from the current state.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(transitions[m.state], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to

	close(m.changed)
	m.changed = make(chan struct{})

	for _, ch := range m.subs {
		select {
		case ch <- to:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving every new state. A subscriber that
// falls more than a few transitions behind misses states; use WaitFor to
// wait for a specific one. The returned func unsubscribes and closes the channel.
func (m *StateMachine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// WaitFor blocks until the machine is in one of targets and returns that
// state, or returns ctx.Err().
func (m *StateMachine) WaitFor(ctx context.Context, targets ...State) (State, error) {
	for {
		m.mu.Lock()
		current := m.state
		changed := m.changed
		m.mu.Unlock()

		if slices.Contains(targets, current) {
			return current, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return current, ctx.Err()
		}
	}
}
