package alerting

import "time"

// State is an alert lifecycle state. The latest history entry defines the
// current state; resolved is terminal.
type State string

const (
	StateNew           State = "new"
	StateAcknowledged  State = "acknowledged"
	StateInvestigating State = "investigating"
	StateResolved      State = "resolved"
)

// States lists all valid lifecycle states.
var States = []State{StateNew, StateAcknowledged, StateInvestigating, StateResolved}

// transitions is the closed transition table. Anything not listed fails with
// INVALID_TRANSITION unless the caller forces it for system recovery.
var transitions = map[State][]State{
	StateNew:           {StateAcknowledged, StateInvestigating, StateResolved},
	StateAcknowledged:  {StateInvestigating, StateResolved},
	StateInvestigating: {StateResolved},
	StateResolved:      {},
}

// ParseState validates a raw state string.
func ParseState(raw string) (State, error) {
	s := State(raw)
	for _, known := range States {
		if s == known {
			return s, nil
		}
	}
	return "", NewErrorf(KindValidation, "unknown state %q", raw)
}

// CanTransition reports whether from → to is allowed by the table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an INVALID_TRANSITION error when from → to is
// not in the table. force bypasses the table for privileged system recovery.
func ValidateTransition(from, to State, force bool) error {
	if force {
		return nil
	}
	if !CanTransition(from, to) {
		return NewErrorf(KindInvalidTransition, "cannot transition from %s to %s", from, to).
			WithDetail(map[string]any{"from": string(from), "to": string(to)})
	}
	return nil
}

// TransitionEvent is emitted in-process after a committed state change. The
// SLA tracker and the escalation driver's eligibility filter consume these.
type TransitionEvent struct {
	AlertID   string
	FromState State
	ToState   State
	Actor     *string
	Instant   time.Time
}

// TransitionListener receives committed transition events. Listener failures
// never roll back the transition that produced the event.
type TransitionListener func(TransitionEvent)
