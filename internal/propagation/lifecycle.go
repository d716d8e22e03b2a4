package propagation

import (
	"errors"

	"carbon-scribe/ghg-reporting/pkg/workflows"
)

// Activity lifecycle states. The state describes the activity's current
// result: a recalculation moves it back to calculated.
const (
	StateCreated    workflows.State = "created"
	StateCalculated workflows.State = "calculated"
	StateSuperseded workflows.State = "superseded"
	StateApproved   workflows.State = "approved"
	StateArchived   workflows.State = "archived"
)

// NewActivityLifecycle returns the transition table for activities
func NewActivityLifecycle() *workflows.StateMachine {
	return workflows.NewStateMachine(map[workflows.State][]workflows.State{
		StateCreated:    {StateCalculated},
		StateCalculated: {StateSuperseded, StateApproved},
		StateSuperseded: {StateCalculated},
		StateApproved:   {StateArchived},
		StateArchived:   {StateCalculated},
	})
}

// recalculationPath is the sequence of states a recalculation walks from
// the given state. The previous result is retired first.
func recalculationPath(from workflows.State) []workflows.State {
	switch from {
	case StateCalculated:
		return []workflows.State{StateSuperseded, StateCalculated}
	case StateApproved:
		return []workflows.State{StateArchived, StateCalculated}
	default:
		return []workflows.State{StateCalculated}
	}
}

// =====================================================
// Errors
// =====================================================

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that a retry cannot fix. The bus logs and
// counts it but does not queue it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
