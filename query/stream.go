package query

import (
	"context"
	"fmt"
	"io"

	"booktape/domain/book"
	"booktape/domain/event"
	"booktape/infra/store"
	"booktape/replay"
)

// StreamSnapshots yields one DepthSnapshot per cadence boundary in
// [startMicros, endMicros), anchored once before the first boundary.
// The sequence is lazy and finite; re-invoking with the same arguments
// reproduces it exactly, but a stream cannot be resumed mid-flight
// without re-anchoring.
func (f *Facade) StreamSnapshots(ctx context.Context, instrument string, startMicros, endMicros, cadenceMicros int64) (*SnapshotStream, error) {
	if cadenceMicros <= 0 {
		return nil, fmt.Errorf("query: cadence must be positive, got %d", cadenceMicros)
	}
	if startMicros >= endMicros {
		return nil, fmt.Errorf("query: empty window [%d,%d)", startMicros, endMicros)
	}
	sc, err := f.scope(instrument, startMicros)
	if err != nil {
		return nil, err
	}

	eng := replay.New(replay.Options{})
	var offset int64
	if cp, ok, err := f.opts.Store.NearestCheckpoint(sc, startMicros); err != nil {
		return nil, err
	} else if ok {
		if err := eng.ResumeFrom(cp); err != nil {
			return nil, err
		}
		offset = cp.Offset
	} else if anchor, ok, err := f.opts.Store.NearestAnchor(sc, startMicros); err != nil {
		return nil, err
	} else if ok {
		offset = anchor.Offset
	} else {
		return nil, &MissingSnapshotAnchorError{
			Instrument: instrument, Partition: sc.Partition, At: startMicros,
		}
	}

	cur, err := f.opts.Logs.Open(sc.Instrument, sc.Partition).OpenCursor()
	if err != nil {
		return nil, err
	}
	if err := cur.Seek(offset); err != nil {
		_ = cur.Close()
		return nil, err
	}
	return &SnapshotStream{
		facade:     f,
		ctx:        ctx,
		sc:         sc,
		cur:        cur,
		eng:        eng,
		next:       startMicros,
		end:        endMicros,
		cadence:    cadenceMicros,
		instrument: instrument,
	}, nil
}

// SnapshotStream pulls cadence snapshots in the source-log reader
// style: Next, then Snapshot, then Err after exhaustion.
type SnapshotStream struct {
	facade *Facade
	ctx    context.Context
	sc     store.Scope
	cur    event.Cursor
	eng    *replay.Engine

	next    int64
	end     int64
	cadence int64

	instrument string
	pending    *event.Event
	exhausted  bool

	snap book.DepthSnapshot
	err  error
}

// Next advances to the next cadence boundary. It returns false at the
// window end or on error; check Err afterwards.
func (s *SnapshotStream) Next() bool {
	if s.err != nil || s.next >= s.end {
		return false
	}
	if err := s.advance(s.next); err != nil {
		s.err = err
		return false
	}
	snap, err := s.facade.finish(s.instrument, s.next, s.eng)
	if err != nil {
		s.err = err
		return false
	}
	s.snap = snap
	s.next += s.cadence
	return true
}

// advance applies every event with arrival <= boundary, holding back
// the first event beyond it for the following boundary.
func (s *SnapshotStream) advance(boundary int64) error {
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if s.pending == nil {
			if s.exhausted {
				return nil
			}
			ev, err := s.cur.Next()
			if err == io.EOF {
				s.exhausted = true
				return nil
			}
			if err != nil {
				return err
			}
			s.pending = ev
		}
		if s.pending.ArrivalTime > boundary {
			return nil
		}
		ev := s.pending
		s.pending = nil
		if err := s.eng.Process(ev); err != nil {
			return err
		}
	}
}

// Snapshot returns the boundary snapshot produced by the last
// successful Next.
func (s *SnapshotStream) Snapshot() book.DepthSnapshot {
	return s.snap
}

func (s *SnapshotStream) Err() error {
	return s.err
}

func (s *SnapshotStream) Close() error {
	return s.cur.Close()
}
