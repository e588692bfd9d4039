// ABOUTME: Policy mapping from guard decisions to ingest actions
// ABOUTME: Also formats the wire-contract loop warning suffix

package loopguard

import "fmt"

// Action is what the ingest pipeline does with a classified event.
type Action string

const (
	// ActionNormal admits the event unchanged.
	ActionNormal Action = "normal"
	// ActionWarn admits the event with the loop warning appended to its text.
	ActionWarn Action = "warn"
	// ActionStop rejects the event: no append, no fan-out.
	ActionStop Action = "stop"
)

// Policy thresholds over decision confidence.
const (
	stopThreshold = 0.95
	warnThreshold = 0.7
)

// ActionFor maps a decision to its ingest action.
func ActionFor(d Decision) Action {
	if !d.IsErrorLoop {
		return ActionNormal
	}
	switch {
	case d.Confidence >= stopThreshold:
		return ActionStop
	case d.Confidence > warnThreshold:
		return ActionWarn
	default:
		return ActionNormal
	}
}

// WarnSuffix returns the exact suffix appended to a warn-class event's text.
// The format is part of the wire contract; do not reword it.
func WarnSuffix(confidence float64) string {
	return fmt.Sprintf("\n\n[LOOP_GUARD_NOTE] Possible error loop detected (confidence=%.2f). Please evaluate and stop if erroneous.", confidence)
}
