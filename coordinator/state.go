package coordinator

// State is a phase of a coordination run.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateAggregating
	StateResolved
	StateConflictResolution
	StateDone
)

var stateNames = [...]string{"idle", "dispatching", "aggregating", "resolved", "conflict_resolution", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// allowed lists the legal successors of every state.
var allowed = map[State][]State{
	StateIdle:               {StateDispatching, StateDone},
	StateDispatching:        {StateAggregating, StateResolved, StateDone},
	StateAggregating:        {StateResolved, StateConflictResolution, StateDone},
	StateResolved:           {StateDone},
	StateConflictResolution: {StateDone},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
