package tracker

import (
	"fmt"
	"time"
)

// State is a sync run's position in the orchestrator state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateFetching  State = "FETCHING"
	StateDetecting State = "DETECTING"
	StateResolving State = "RESOLVING"
	StateApplying  State = "APPLYING"
	StateCommitted State = "COMMITTED"
	StateFailed    State = "FAILED"
	StatePartial   State = "PARTIAL"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StatePartial
}

// transitions is the fixed table of legal state changes. Every non-terminal
// state may fail. RESOLVING may end early as COMMITTED or PARTIAL for dry
// runs, which never enter APPLYING.
var transitions = map[State][]State{
	StateIdle:      {StateFetching, StateFailed},
	StateFetching:  {StateDetecting, StateFailed},
	StateDetecting: {StateResolving, StateFailed},
	StateResolving: {StateApplying, StateCommitted, StatePartial, StateFailed},
	StateApplying:  {StateCommitted, StatePartial, StateFailed},
}

// CanTransition reports whether from → to is in the table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks the current state of one run and records every transition
// on the result.
type machine struct {
	state  State
	result *SyncResult
	now    func() time.Time
	onStep func(from, to State)
}

func newMachine(result *SyncResult, now func() time.Time) *machine {
	result.State = StateIdle
	return &machine{state: StateIdle, result: result, now: now}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("illegal sync state transition %s -> %s", m.state, next)
	}
	m.result.Transitions = append(m.result.Transitions, Transition{From: m.state, To: next, At: m.now()})
	if m.onStep != nil {
		m.onStep(m.state, next)
	}
	m.state = next
	m.result.State = next
	return nil
}

// fail moves to FAILED from any non-terminal state.
func (m *machine) fail() {
	if m.state.Terminal() {
		return
	}
	_ = m.to(StateFailed)
}
