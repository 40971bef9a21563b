package replay

import (
	"errors"
	"fmt"

	"booktape/domain/event"
)

// ErrPreSnapshot is returned under the Halt policy when a
// book-affecting event arrives while the engine is still Empty.
var ErrPreSnapshot = errors.New("replay: book-affecting event before first snapshot group")

// OutOfOrderError reports an event whose ordering key does not strictly
// exceed the previously applied key. The session halts; state reflects
// only events applied before the violation.
type OutOfOrderError struct {
	Prev event.Key
	Next event.Key
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("replay: out-of-order event %s after %s", e.Next, e.Prev)
}

// ReplayStateConflictError reports a resume attempt against an engine
// whose position does not match the checkpoint marker.
type ReplayStateConflictError struct {
	Have event.Key
	Want event.Key
}

func (e *ReplayStateConflictError) Error() string {
	return fmt.Sprintf("replay: state conflict: engine at %s, checkpoint marker %s", e.Have, e.Want)
}
