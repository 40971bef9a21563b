package event

import "io"

// Iterator is the pull contract between the ingestion boundary and the
// replay engine: a synchronous, ordered stream of events for one
// (instrument, partition) scope. Next returns io.EOF when the stream is
// exhausted.
type Iterator interface {
	Next() (*Event, error)
}

// Cursor is an Iterator over a durable source log that additionally
// exposes record offsets and random seeking. Offset reports the byte
// offset at which the next record starts.
type Cursor interface {
	Iterator
	Offset() int64
	Seek(offset int64) error
	Close() error
}

// Log opens cursors over one (instrument, partition) source log. The
// concrete log lives with the storage collaborator; the replay side
// only ever sees this contract.
type Log interface {
	OpenCursor() (Cursor, error)
}

// SliceIterator adapts an in-memory slice to Iterator. Used by tests
// and small batch callers.
type SliceIterator struct {
	events []Event
	pos    int
}

func NewSliceIterator(events []Event) *SliceIterator {
	return &SliceIterator{events: events}
}

func (it *SliceIterator) Next() (*Event, error) {
	if it.pos >= len(it.events) {
		return nil, io.EOF
	}
	e := &it.events[it.pos]
	it.pos++
	return e, nil
}
