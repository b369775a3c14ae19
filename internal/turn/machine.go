package turn

import "fmt"

// transitions lists the legal moves out of each phase.
// Moving to Idle is always legal and handled separately.
var transitions = map[Phase][]Phase{
	Idle:             {PlayingQuestion, Recording},
	PlayingQuestion:  {Recording},
	Recording:        {ProcessingSpeech, Evaluating},
	ProcessingSpeech: {Recording, Evaluating},
	Evaluating:       {PlayingQuestion, Recording},
}

// TransitionError reports an illegal phase change
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal turn transition %s -> %s", e.From, e.To)
}

// Machine owns the current phase and the cycle guard of one interview
type Machine struct {
	phase  Phase
	cycles CycleGuard
}

// NewMachine returns a machine resting in Idle
func NewMachine() *Machine {
	return &Machine{phase: Idle}
}

// Phase returns the active phase
func (m *Machine) Phase() Phase {
	return m.phase
}

// Cycle returns the current cycle
func (m *Machine) Cycle() Cycle {
	return m.cycles.Current()
}

// Valid reports whether c is still the current cycle
func (m *Machine) Valid(c Cycle) bool {
	return m.cycles.Valid(c)
}

// Advance invalidates every callback scoped to the current cycle
func (m *Machine) Advance() Cycle {
	return m.cycles.Next()
}

// Can reports whether moving to the given phase is legal
func (m *Machine) Can(to Phase) bool {
	if to == Idle || to == m.phase {
		return true
	}
	for _, p := range transitions[m.phase] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition moves to the given phase and returns the previous one.
// Entering Recording mints a new cycle; staying in the same phase is a no-op.
func (m *Machine) Transition(to Phase) (Phase, error) {
	from := m.phase
	if !m.Can(to) {
		return from, &TransitionError{From: from, To: to}
	}
	if from == to {
		return from, nil
	}
	m.phase = to
	if to == Recording {
		m.cycles.Next()
	}
	return from, nil
}
