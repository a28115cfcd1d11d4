package pipeline

import (
	"errors"
	"fmt"
)

// State is the position of one parameter in the pipeline.
type State string

const (
	StateRaw               State = "raw"
	StateNormalized        State = "normalized"
	StateMismatchEvaluated State = "mismatch_evaluated"
	StateTrendEvaluated    State = "trend_evaluated"
	StateRiskClassified    State = "risk_classified"
	StateGated             State = "gated"
	StateRejected          State = "rejected"
)

// ErrIllegalTransition is returned when a state change is not allowed.
var ErrIllegalTransition = errors.New("illegal state transition")

var transitions = map[State][]State{
	StateRaw:               {StateNormalized, StateRejected},
	StateNormalized:        {StateMismatchEvaluated},
	StateMismatchEvaluated: {StateTrendEvaluated, StateRiskClassified},
	StateTrendEvaluated:    {StateRiskClassified},
	StateRiskClassified:    {StateGated},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateGated || s == StateRejected
}

// Machine tracks one parameter's state and the path it took.
type Machine struct {
	state State
	path  []State
}

func NewMachine() *Machine {
	return &Machine{state: StateRaw, path: []State{StateRaw}}
}

// Advance moves to next, or returns ErrIllegalTransition and stays put.
func (m *Machine) Advance(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.path = append(m.path, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
}

func (m *Machine) State() State {
	return m.state
}

// Path returns the states visited so far, starting with raw.
func (m *Machine) Path() []State {
	out := make([]State, len(m.path))
	copy(out, m.path)
	return out
}
