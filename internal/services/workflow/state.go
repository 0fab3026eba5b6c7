package workflow

// State is a position in the lending workflow.
type State string

const (
	StateStart         State = "start"
	StateDeposited     State = "deposited"
	StateCapacityRead1 State = "capacity_read_1"
	StateBorrowed      State = "borrowed"
	StateCapacityRead2 State = "capacity_read_2"
	StateRepaid        State = "repaid"
	StateCapacityRead3 State = "capacity_read_3"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further action follows s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Action is the work the driver performs to leave a state.
type Action string

const (
	ActionNone         Action = ""
	ActionDeposit      Action = "deposit"
	ActionReadSnapshot Action = "read_snapshot"
	ActionBorrow       Action = "borrow"
	ActionRepay        Action = "repay"
	ActionFinish       Action = "finish"
)

// Result is the outcome of executing an action.
type Result struct {
	Action Action
	Err    error
}

type edge struct {
	action Action
	next   State
}

var edges = map[State]edge{
	StateStart:         {ActionDeposit, StateDeposited},
	StateDeposited:     {ActionReadSnapshot, StateCapacityRead1},
	StateCapacityRead1: {ActionBorrow, StateBorrowed},
	StateBorrowed:      {ActionReadSnapshot, StateCapacityRead2},
	StateCapacityRead2: {ActionRepay, StateRepaid},
	StateRepaid:        {ActionReadSnapshot, StateCapacityRead3},
	StateCapacityRead3: {ActionFinish, StateCompleted},
}

// Expected returns the action state s requests, or ActionNone for terminal
// and unknown states.
func Expected(s State) Action {
	return edges[s].action
}

// Transition returns the state reached from s given result, and the action
// that state requests. A failed result, or a result for an action s did not
// request, moves to StateFailed. Terminal states absorb every result.
func Transition(s State, result Result) (State, Action) {
	if s.Terminal() {
		return s, ActionNone
	}
	e, ok := edges[s]
	if !ok || result.Err != nil || result.Action != e.action {
		return StateFailed, ActionNone
	}
	return e.next, Expected(e.next)
}
