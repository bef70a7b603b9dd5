package wizard

// Status is a step's submit state.
type Status int

const (
	StatusIdle Status = iota
	StatusSubmitting
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitting:
		return "submitting"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a step's machine state. Reason is set only when Failed.
type State struct {
	Status Status
	Reason string
}

type eventKind int

const (
	evSubmit eventKind = iota
	evSucceed
	evFail
	evReject
	evReset
)

type event struct {
	kind   eventKind
	reason string
}

// reduce is the only place step state changes. ok is false when the event is
// not accepted in the current state; the state is then returned unchanged.
//
//	Idle|Succeeded|Failed --submit--> Submitting
//	Submitting --succeed--> Succeeded
//	Submitting --fail--> Failed(reason)
//	Idle|Succeeded|Failed --reject--> Failed(reason)    local validation, no call
//	any --reset--> Idle
func reduce(s State, e event) (State, bool) {
	switch e.kind {
	case evSubmit:
		if s.Status == StatusSubmitting {
			return s, false
		}
		return State{Status: StatusSubmitting}, true
	case evSucceed:
		if s.Status != StatusSubmitting {
			return s, false
		}
		return State{Status: StatusSucceeded}, true
	case evFail:
		if s.Status != StatusSubmitting {
			return s, false
		}
		return State{Status: StatusFailed, Reason: e.reason}, true
	case evReject:
		if s.Status == StatusSubmitting {
			return s, false
		}
		return State{Status: StatusFailed, Reason: e.reason}, true
	case evReset:
		return State{Status: StatusIdle}, true
	}
	return s, false
}

// machine holds one step's state. The owning Wizard serialises access.
type machine struct {
	state State
}

func (m *machine) dispatch(e event) (State, bool) {
	next, ok := reduce(m.state, e)
	m.state = next
	return next, ok
}
