// Package checkpoint defines the two derived, write-once artifacts the
// builder persists: full-book checkpoints and snapshot-index entries.
// Both are scoped to one (instrument, partition) and are only ever
// replaced by a full scoped rebuild, never mutated in place.
package checkpoint

import (
	"booktape/domain/book"
	"booktape/domain/event"
)

// Checkpoint is a persisted full-depth book state plus the ordering key
// of the last event applied to produce it. Offset points at the first
// source-log record after the marker so replay can resume without
// rescanning. Replaying the same event set from the prior anchor always
// yields a byte-identical checkpoint.
type Checkpoint struct {
	Instrument string
	Partition  string
	Marker     event.Key
	Offset     int64
	Bids       []book.Level
	Asks       []book.Level
}

// IndexEntry points at the first row of one detected snapshot group in
// the source log. It is the low-cost anchor used when no closer
// checkpoint exists.
type IndexEntry struct {
	Instrument string
	Partition  string
	Key        event.Key
	Offset     int64
	SnapshotID uint64
}
