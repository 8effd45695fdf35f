package orchestrator

// This file is pure data: the legal-transitions graph plus terminal/
// pausable predicates and the phase-to-entry-state mapping (C3). It holds
// no behavior and no state other than the package-level tables below.

// legalForward enumerates the forward edges of the transition graph.
// Pause, resume, escalate, and abort are handled as explicit exceptions in
// isLegalTransition rather than listed here, matching spec.md §3's
// "forward edges only" framing.
var legalForward = map[State]map[State]bool{
	StateIdle:         {StatePlanning: true},
	StatePlanning:     {StateImplementing: true},
	StateImplementing: {StateQA: true},
	StateQA:           {StateDeploying: true, StateImplementing: true},
	StateDeploying:    {StateComplete: true, StateFailed: true},
}

// pausable is the set of states pause may be invoked from.
var pausable = map[State]bool{
	StatePlanning:       true,
	StateImplementing:   true,
	StateQA:             true,
	StateDeploying:      true,
	StateAwaitingManual: true,
}

// terminalStates is the set of states with no live C1 context.
var terminalStates = map[State]bool{
	StateComplete: true,
	StateFailed:   true,
}

// phaseToEntryState maps a named phase to the state entered when that
// phase begins.
var phaseToEntryState = map[Phase]State{
	PhasePlanning:     StatePlanning,
	PhaseImplementing: StateImplementing,
	PhaseQA:           StateQA,
	PhaseDeploying:    StateDeploying,
}

// phaseOrder is the forward sequence of phases, used by onPhaseComplete to
// find "the next phase after phaseName".
var phaseOrder = []Phase{PhasePlanning, PhaseImplementing, PhaseQA, PhaseDeploying}

// IsLegalForward reports whether (from, to) is a member of the
// legal-forward relation (not counting pause/resume/escalate/abort).
func IsLegalForward(from, to State) bool {
	return legalForward[from][to]
}

// IsPausable reports whether pausePipeline may be invoked from s.
func IsPausable(s State) bool {
	return pausable[s]
}

// IsTerminalState reports whether s has no live C1 context.
func IsTerminalState(s State) bool {
	return terminalStates[s]
}

// EntryStateForPhase returns the state entered when phase begins.
func EntryStateForPhase(phase Phase) (State, bool) {
	s, ok := phaseToEntryState[phase]
	return s, ok
}

// NextPhase returns the phase that follows phase in the forward sequence,
// or false if phase is the last one (deploying).
func NextPhase(phase Phase) (Phase, bool) {
	for i, p := range phaseOrder {
		if p == phase {
			if i+1 < len(phaseOrder) {
				return phaseOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// isLegalTransition validates (from, to) against the full transition graph,
// including the exceptional pairs spec.md §3 carves out of the forward-only
// table: pause (any active, non-paused state -> paused), resume (paused ->
// its previousState), escalate (any active state -> awaiting_manual), abort
// (any active state -> failed), and override (awaiting_manual -> anything
// chosen by the operator). These exceptional pairs are validated by the
// callers that own them (pausePipeline, resumePipeline, the recovery
// engine) rather than here, because their legality additionally depends on
// context fields (previousState) the pure table cannot see; this function
// covers the context-independent forward graph that `transition` validates
// against.
func isLegalTransition(from, to State) bool {
	return IsLegalForward(from, to)
}
