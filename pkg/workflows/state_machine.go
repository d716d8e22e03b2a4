package workflows

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a transition is not in the table
var ErrInvalidTransition = errors.New("invalid state transition")

// State is a named lifecycle state
type State string

// StateMachine enforces status transitions
type StateMachine struct {
	allowedTransitions map[State][]State
}

// NewStateMachine creates a new state machine with allowed transitions
func NewStateMachine(transitions map[State][]State) *StateMachine {
	allowed := make(map[State][]State, len(transitions))
	for from, to := range transitions {
		allowed[from] = append([]State(nil), to...)
	}
	return &StateMachine{allowedTransitions: allowed}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to State) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from State) []State {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []State{}
	}
	return append([]State(nil), allowed...)
}

// Tracker records the current state of many keyed instances of one machine
type Tracker struct {
	machine *StateMachine
	initial State
	mu      sync.Mutex
	states  map[string]State
}

// NewTracker creates a tracker whose unseen keys are in the initial state
func NewTracker(machine *StateMachine, initial State) *Tracker {
	return &Tracker{
		machine: machine,
		initial: initial,
		states:  make(map[string]State),
	}
}

// Current returns the state of key and whether it has been seen
func (t *Tracker) Current(key string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[key]
	if !ok {
		return t.initial, false
	}
	return s, true
}

// Seed sets the state of an unseen key, typically from persisted data.
// Keys already tracked are left alone.
func (t *Tracker) Seed(key string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.states[key]; !ok {
		t.states[key] = state
	}
}

// Transition moves key to the given state if the machine allows it
func (t *Tracker) Transition(key string, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.states[key]
	if !ok {
		from = t.initial
	}
	if !t.machine.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, from, to, key)
	}
	t.states[key] = to
	return nil
}

// Path applies several transitions as one step. Either all apply or none do.
func (t *Tracker) Path(key string, states ...State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.states[key]
	if !ok {
		from = t.initial
	}
	current := from
	for _, to := range states {
		if !t.machine.CanTransition(current, to) {
			return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, current, to, key)
		}
		current = to
	}
	t.states[key] = current
	return nil
}

// Forget drops a key so it returns to the initial state
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.states, key)
}
