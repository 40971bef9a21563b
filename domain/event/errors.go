package event

import "fmt"

// MalformedEventError reports an event whose side/kind/field
// combination is invalid. Fatal per-event by default; the engine's
// count-and-skip mode may downgrade it for offline triage, but the skip
// is always counted.
type MalformedEventError struct {
	Key    Key
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %s: %s", e.Key, e.Reason)
}
