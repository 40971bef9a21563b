package replay

import "booktape/domain/book"

// PreSnapshotPolicy governs book-affecting events observed before the
// first snapshot group.
type PreSnapshotPolicy uint8

const (
	// Halt fails fast on any book-affecting event while the engine is
	// still Empty. Default.
	Halt PreSnapshotPolicy = iota
	// BufferUntilSnapshot queues pre-snapshot incrementals and replays
	// them, in order, once the first snapshot group completes.
	BufferUntilSnapshot
)

func (p PreSnapshotPolicy) String() string {
	switch p {
	case Halt:
		return "halt"
	case BufferUntilSnapshot:
		return "buffer_until_snapshot"
	default:
		return "unknown"
	}
}

// CheckpointPolicy decides when the engine hands the current state to
// the checkpoint sink: after EveryEvents applied events, or once the
// applied arrival-time span reaches EverySpanMicros, whichever
// threshold is crossed first. Zero fields disable that trigger; the
// zero policy never fires.
type CheckpointPolicy struct {
	EveryEvents     int
	EverySpanMicros int64
}

func (p CheckpointPolicy) enabled() bool {
	return p.EveryEvents > 0 || p.EverySpanMicros > 0
}

func (p CheckpointPolicy) fires(events int, spanMicros int64) bool {
	if p.EveryEvents > 0 && events >= p.EveryEvents {
		return true
	}
	if p.EverySpanMicros > 0 && spanMicros >= p.EverySpanMicros {
		return true
	}
	return false
}

// CheckpointSink receives cadence emissions synchronously, inline with
// event processing. An emission is atomic: the sink either persists the
// whole snapshot or returns an error that halts the session.
type CheckpointSink interface {
	Emit(snap book.DepthSnapshot) error
}

// SinkFunc adapts a function to CheckpointSink.
type SinkFunc func(snap book.DepthSnapshot) error

func (f SinkFunc) Emit(snap book.DepthSnapshot) error {
	return f(snap)
}
