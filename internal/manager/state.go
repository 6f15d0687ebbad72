// Package manager orchestrates the decision cycle: position check, chain
// fetch, strike selection, payoff evaluation and order placement.
package manager

import (
	"fmt"
	"time"
)

// CycleState represents the current state of a decision cycle.
type CycleState string

const (
	// StateCheckingPositions is the entry state: reconcile a fresh broker
	// position snapshot before anything else.
	StateCheckingPositions CycleState = "checking_positions"
	// StateOpenExists is terminal: an open strategy already exists, do nothing.
	StateOpenExists CycleState = "open_exists"
	// StateBuildingStrategy assembles and places a new condor.
	StateBuildingStrategy CycleState = "building_strategy"
	// StateDone is terminal: a condor was created this cycle.
	StateDone CycleState = "done"
	// StateError is terminal: the cycle failed and was reported.
	StateError CycleState = "error"
)

// stateTransition defines one valid cycle state transition.
type stateTransition struct {
	From      CycleState
	To        CycleState
	Condition string
}

// validTransitions enumerates the full decision cycle state machine.
var validTransitions = []stateTransition{
	{StateCheckingPositions, StateOpenExists, "positions_found"},
	{StateCheckingPositions, StateBuildingStrategy, "no_open_strategy"},
	{StateCheckingPositions, StateError, "position_fetch_failed"},
	{StateBuildingStrategy, StateDone, "order_placed"},
	{StateBuildingStrategy, StateError, "build_failed"},
}

// cycleMachine tracks the state of one decision cycle. A fresh machine is
// created per cycle; cycles share no state beyond the chain cache.
type cycleMachine struct {
	current        CycleState
	previous       CycleState
	transitionTime time.Time
}

func newCycleMachine() *cycleMachine {
	return &cycleMachine{
		current:  StateCheckingPositions,
		previous: StateCheckingPositions,
	}
}

// State returns the current cycle state.
func (m *cycleMachine) State() CycleState {
	return m.current
}

// Transition moves to a new state, validating against the transition table.
func (m *cycleMachine) Transition(to CycleState, condition string) error {
	for _, t := range validTransitions {
		if t.From == m.current && t.To == to && t.Condition == condition {
			m.previous = m.current
			m.current = to
			m.transitionTime = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid cycle transition from %s to %s with condition %q",
		m.current, to, condition)
}

// Terminal reports whether the cycle has reached a terminal state.
func (m *cycleMachine) Terminal() bool {
	return m.current == StateOpenExists || m.current == StateDone || m.current == StateError
}
