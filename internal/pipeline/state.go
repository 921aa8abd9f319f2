package pipeline

import "fmt"

// PassState tracks the progress of one pass of a pipeline run
//
// Transitions:
// - NotStarted -> Initializing -> Running -> Finalizing -> Done
// - Running -> Aborted, Finalizing -> Aborted
type PassState int

const (
	PassNotStarted PassState = iota
	PassInitializing
	PassRunning
	PassFinalizing
	PassDone
	PassAborted
)

// passTransitions maps each state to the states it may be entered from
var passTransitions = map[PassState][]PassState{
	PassInitializing: {PassNotStarted},
	PassRunning:      {PassInitializing},
	PassFinalizing:   {PassRunning},
	PassDone:         {PassFinalizing},
	PassAborted:      {PassRunning, PassFinalizing},
}

func (s PassState) String() string {
	switch s {
	case PassNotStarted:
		return "NotStarted"
	case PassInitializing:
		return "Initializing"
	case PassRunning:
		return "Running"
	case PassFinalizing:
		return "Finalizing"
	case PassDone:
		return "Done"
	case PassAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition is possible
func (s PassState) IsTerminal() bool {
	return s == PassDone || s == PassAborted
}

// canAdvance reports whether from -> to is a valid transition
func canAdvance(from, to PassState) bool {
	for _, allowed := range passTransitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

func (p *Pipeline) advance(step int, to PassState) {
	from := p.states[step]
	if !canAdvance(from, to) {
		panic(fmt.Sprintf("pipeline: invalid pass state transition %s -> %s for %s", from, to, p.processors[step].Name()))
	}
	p.states[step] = to
}
