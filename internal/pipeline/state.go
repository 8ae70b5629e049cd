package pipeline

// State is a step of the run state machine
type State int32

const (
	Idle State = iota
	Verifying
	Collecting
	Classifying
	Persisting
	Exporting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Verifying:
		return "verifying"
	case Collecting:
		return "collecting"
	case Classifying:
		return "classifying"
	case Persisting:
		return "persisting"
	case Exporting:
		return "exporting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
