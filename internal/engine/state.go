package engine

// State tracks a single write through the engine.
//
// Every write starts Idle and moves through Validating. A write with
// violations ends Rejected; a clean one moves through Deriving and, when
// every touched partition recomputed, ends Committed. There is no path
// from Rejected to Deriving: constraint failures suppress derivation
// entirely.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateDeriving
	StateRejected
	StateCommitted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateDeriving:
		return "deriving"
	case StateRejected:
		return "rejected"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}
