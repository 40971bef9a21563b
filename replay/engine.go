// Package replay implements the deterministic order-book replay engine:
// a synchronous state machine that consumes one instrument's ordered
// event stream, mutates book state in place, and hands checkpoints to a
// caller-supplied sink on a configurable cadence. One engine instance
// reconstructs exactly one instrument's book; parallelism is one
// independent engine per (instrument, partition), no shared state.
package replay

import (
	"errors"
	"fmt"
	"io"

	"booktape/checkpoint"
	"booktape/domain/book"
	"booktape/domain/event"
)

// State of the engine's lifecycle: Empty until the first snapshot group
// is observed, Live afterwards.
type State uint8

const (
	Empty State = iota
	Live
)

func (s State) String() string {
	if s == Live {
		return "live"
	}
	return "empty"
}

// Options configures one replay session. The zero value means: Halt on
// pre-snapshot incrementals, strict ordering on, no cadence, fail fast
// on malformed events, full-depth emissions.
type Options struct {
	PreSnapshot PreSnapshotPolicy
	Checkpoint  CheckpointPolicy
	Sink        CheckpointSink

	// DisableOrderCheck turns off strict ordering verification. Only
	// for sources whose order is already proven elsewhere.
	DisableOrderCheck bool

	// SkipMalformed downgrades MalformedEventError to a counted skip.
	// Offline backfill triage only; the skip counter is the signal
	// that rows were dropped.
	SkipMalformed bool

	// SnapshotDepth limits emitted depth; <= 0 means full depth.
	SnapshotDepth int

	// Book overrides the default B-tree backed book.
	Book *book.Book
}

// Stats counts what one session consumed.
type Stats struct {
	Applied     uint64
	Skipped     uint64
	Buffered    uint64
	Checkpoints uint64
}

// Engine replays one instrument's event stream. Not safe for
// concurrent use; a session is single-threaded by design.
type Engine struct {
	opts Options
	book *book.Book

	state      State
	instrument string
	lastKey    event.Key
	hasLast    bool

	inGroup bool
	groupID uint64
	buffer  []event.Event

	cadEvents   int
	cadStart    int64
	cadHasStart bool

	stats Stats
}

// New returns an engine in the Empty state.
func New(opts Options) *Engine {
	b := opts.Book
	if b == nil {
		b = book.New()
	}
	return &Engine{opts: opts, book: b}
}

// Process verifies, applies, and checkpoints one event. On error the
// engine's state reflects only events applied before the failure.
func (e *Engine) Process(ev *event.Event) error {
	k := ev.Key()
	if !e.opts.DisableOrderCheck && e.hasLast && k.Compare(e.lastKey) <= 0 {
		return &OutOfOrderError{Prev: e.lastKey, Next: k}
	}
	applied, err := e.dispatch(ev, k)
	if err != nil {
		if e.opts.SkipMalformed && isMalformed(err) {
			e.stats.Skipped++
			e.lastKey, e.hasLast = k, true
			return nil
		}
		return err
	}
	e.instrument = ev.Instrument
	e.lastKey, e.hasLast = k, true
	if applied {
		e.stats.Applied++
		if e.state == Live {
			return e.maybeCheckpoint(ev, k)
		}
	}
	return nil
}

// Run drains it through Process until io.EOF.
func (e *Engine) Run(it event.Iterator) error {
	for {
		ev, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.Process(ev); err != nil {
			return err
		}
	}
}

// ResumeFrom seeds the engine Live at cp's marker with cp's book
// content. Resuming an engine positioned anywhere other than the
// marker fails with ReplayStateConflictError.
func (e *Engine) ResumeFrom(cp *checkpoint.Checkpoint) error {
	if e.hasLast && e.lastKey.Compare(cp.Marker) != 0 {
		return &ReplayStateConflictError{Have: e.lastKey, Want: cp.Marker}
	}
	e.book.Load(cp.Bids, cp.Asks)
	e.state = Live
	e.instrument = cp.Instrument
	e.lastKey, e.hasLast = cp.Marker, true
	e.inGroup = false
	e.buffer = nil
	e.cadEvents = 0
	e.cadStart = cp.Marker.ArrivalTime
	e.cadHasStart = true
	return nil
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Book exposes the session's state for advanced batch callers. The
// recommended integration surface is the query facade.
func (e *Engine) Book() *book.Book {
	return e.book
}

// LastKey returns the key of the last consumed event, if any.
func (e *Engine) LastKey() (event.Key, bool) {
	return e.lastKey, e.hasLast
}

// Stats returns session counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Snapshot enumerates the current state at the engine's position.
func (e *Engine) Snapshot(maxDepth int) book.DepthSnapshot {
	return book.SnapshotOf(e.book, e.instrument, e.lastKey, maxDepth)
}

// dispatch routes one event by kind. The applied result is false for
// events queued under BufferUntilSnapshot; those count as applied when
// the buffer flushes.
func (e *Engine) dispatch(ev *event.Event, k event.Key) (applied bool, err error) {
	switch ev.Kind {
	case event.KindSnapshotLevel:
		// Validate before touching anything: a malformed first row of
		// a new group must not clear the live book.
		if err := book.Validate(ev); err != nil {
			return false, err
		}
		// Reset exactly once, at the first row of a new group.
		if !e.inGroup || e.groupID != ev.SnapshotID {
			e.book.Reset()
			e.inGroup = true
			e.groupID = ev.SnapshotID
			e.state = Live
		}
		return true, e.book.Apply(ev)

	case event.KindIncremental:
		if err := e.endGroup(); err != nil {
			return false, err
		}
		if e.state == Empty {
			if e.opts.PreSnapshot == BufferUntilSnapshot {
				e.buffer = append(e.buffer, *ev)
				e.stats.Buffered++
				return false, nil
			}
			return false, fmt.Errorf("%w: %s", ErrPreSnapshot, k)
		}
		if err := e.book.Apply(ev); err != nil {
			return false, err
		}
		return true, nil

	case event.KindTrade, event.KindHeartbeat:
		// No book mutation; trades report executions, heartbeats only
		// advance the cadence clock.
		if err := e.endGroup(); err != nil {
			return false, err
		}
		return true, nil

	case event.KindGap, event.KindReset, event.KindSessionBoundary:
		// Book content is untrusted until the next snapshot group.
		e.clear()
		return true, nil

	default:
		return false, &event.MalformedEventError{Key: k, Reason: "unknown kind"}
	}
}

// endGroup closes an open snapshot group and, the first time one
// completes, replays events buffered under BufferUntilSnapshot.
func (e *Engine) endGroup() error {
	if !e.inGroup {
		return nil
	}
	e.inGroup = false
	if len(e.buffer) == 0 {
		return nil
	}
	buffered := e.buffer
	e.buffer = nil
	for i := range buffered {
		if err := e.book.Apply(&buffered[i]); err != nil {
			if e.opts.SkipMalformed {
				e.stats.Skipped++
				continue
			}
			return err
		}
		e.stats.Applied++
	}
	return nil
}

func (e *Engine) clear() {
	e.book.Reset()
	e.state = Empty
	e.inGroup = false
	e.buffer = nil
	e.cadEvents = 0
	e.cadHasStart = false
}

func (e *Engine) maybeCheckpoint(ev *event.Event, k event.Key) error {
	p := e.opts.Checkpoint
	if !p.enabled() || e.opts.Sink == nil {
		return nil
	}
	if !e.cadHasStart {
		e.cadStart = ev.ArrivalTime
		e.cadHasStart = true
	}
	e.cadEvents++
	if !p.fires(e.cadEvents, ev.ArrivalTime-e.cadStart) {
		return nil
	}
	snap := book.SnapshotOf(e.book, ev.Instrument, k, e.opts.SnapshotDepth)
	if err := e.opts.Sink.Emit(snap); err != nil {
		return fmt.Errorf("checkpoint sink: %w", err)
	}
	e.stats.Checkpoints++
	e.cadEvents = 0
	e.cadStart = ev.ArrivalTime
	return nil
}

func isMalformed(err error) bool {
	var me *event.MalformedEventError
	return errors.As(err, &me)
}
