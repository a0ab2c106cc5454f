package runtime

import "fmt"

// State is a pipeline state.
type State string

// Pipeline states. A run moves strictly forward through them:
//
//	idle -> sink_acquired -> archive_open -> (entry_in_progress -> archive_open)*
//	     -> archive_closing -> done
//
// cancelled is only reachable from idle; failed is reachable from every
// non-terminal state.
const (
	StateIdle            State = "idle"
	StateSinkAcquired    State = "sink_acquired"
	StateArchiveOpen     State = "archive_open"
	StateEntryInProgress State = "entry_in_progress"
	StateArchiveClosing  State = "archive_closing"
	StateDone            State = "done"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

var transitions = map[State][]State{
	StateIdle:            {StateSinkAcquired, StateCancelled, StateFailed},
	StateSinkAcquired:    {StateArchiveOpen, StateFailed},
	StateArchiveOpen:     {StateEntryInProgress, StateArchiveClosing, StateFailed},
	StateEntryInProgress: {StateArchiveOpen, StateFailed},
	StateArchiveClosing:  {StateDone, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StateObserver is notified of every state transition.
type StateObserver func(from, to State)

// stateMachine tracks the run state. Illegal transitions are programming
// errors and panic.
type stateMachine struct {
	current  State
	observer StateObserver
}

func newStateMachine(observer StateObserver) *stateMachine {
	return &stateMachine{current: StateIdle, observer: observer}
}

func (m *stateMachine) to(next State) {
	if !m.current.CanTransition(next) {
		panic(fmt.Sprintf("runtime: illegal state transition %s -> %s", m.current, next))
	}
	from := m.current
	m.current = next
	if m.observer != nil {
		m.observer(from, next)
	}
}
