// Package query answers point-in-time book questions with
// checkpoint-assisted replay: locate the nearest persisted anchor at or
// before the requested time, replay forward from it, enumerate. The
// result is identical whichever anchor resolved the query. This facade
// is the recommended integration surface; the raw engine and book
// Apply/Enumerate primitives stay available for advanced batch callers.
package query

import (
	"context"
	"fmt"
	"io"

	"booktape/checkpoint"
	"booktape/domain/book"
	"booktape/domain/event"
	"booktape/infra/eventlog"
	"booktape/infra/store"
	"booktape/replay"
)

// PartitionResolver maps (instrument, time) onto the partition holding
// that time's events. Owned by the ingestion collaborator's manifest.
type PartitionResolver func(instrument string, atMicros int64) (partition string, err error)

// AnchorStore is the read side of the checkpoint/index store.
type AnchorStore interface {
	NearestCheckpoint(sc store.Scope, at int64) (*checkpoint.Checkpoint, bool, error)
	NearestAnchor(sc store.Scope, at int64) (*checkpoint.IndexEntry, bool, error)
}

// MissingSnapshotAnchorError reports that no checkpoint or
// snapshot-index entry exists at or before the requested time. Callers
// wanting a full-log replay must say so via GetSnapshotFromStart.
type MissingSnapshotAnchorError struct {
	Instrument string
	Partition  string
	At         int64
}

func (e *MissingSnapshotAnchorError) Error() string {
	return fmt.Sprintf("query: no snapshot anchor for %s/%s at or before %d",
		e.Instrument, e.Partition, e.At)
}

// Options wires a Facade.
type Options struct {
	Store      AnchorStore
	Logs       eventlog.Tree
	Partitions PartitionResolver

	// Scales resolves implied-decimal factors for returned snapshots.
	// Optional; zero scales are returned when absent.
	Scales event.ScaleLookup

	// PreSnapshot applies only to full-log bootstraps; anchored replay
	// always begins at a snapshot row.
	PreSnapshot replay.PreSnapshotPolicy

	// SnapshotDepth limits returned depth; <= 0 means full.
	SnapshotDepth int
}

type Facade struct {
	opts Options
}

func New(opts Options) *Facade {
	return &Facade{opts: opts}
}

// GetSnapshot returns the book state at atMicros: nearest checkpoint
// first, nearest raw snapshot anchor as fallback, never a full-log
// scan. Fails with MissingSnapshotAnchorError when neither exists.
func (f *Facade) GetSnapshot(ctx context.Context, instrument string, atMicros int64) (book.DepthSnapshot, error) {
	sc, err := f.scope(instrument, atMicros)
	if err != nil {
		return book.DepthSnapshot{}, err
	}

	cp, ok, err := f.opts.Store.NearestCheckpoint(sc, atMicros)
	if err != nil {
		return book.DepthSnapshot{}, err
	}
	if ok {
		eng := replay.New(replay.Options{})
		if err := eng.ResumeFrom(cp); err != nil {
			return book.DepthSnapshot{}, err
		}
		return f.replayTo(ctx, sc, eng, cp.Offset, atMicros)
	}

	anchor, ok, err := f.opts.Store.NearestAnchor(sc, atMicros)
	if err != nil {
		return book.DepthSnapshot{}, err
	}
	if !ok {
		return book.DepthSnapshot{}, &MissingSnapshotAnchorError{
			Instrument: instrument, Partition: sc.Partition, At: atMicros,
		}
	}
	eng := replay.New(replay.Options{})
	return f.replayTo(ctx, sc, eng, anchor.Offset, atMicros)
}

// GetSnapshotFromStart is the explicit full-log escape hatch: replay
// the whole partition from its first record. Expensive by design.
func (f *Facade) GetSnapshotFromStart(ctx context.Context, instrument string, atMicros int64) (book.DepthSnapshot, error) {
	sc, err := f.scope(instrument, atMicros)
	if err != nil {
		return book.DepthSnapshot{}, err
	}
	eng := replay.New(replay.Options{PreSnapshot: f.opts.PreSnapshot})
	return f.replayTo(ctx, sc, eng, 0, atMicros)
}

// replayTo applies events from logical offset while arrival <= at,
// then enumerates.
func (f *Facade) replayTo(ctx context.Context, sc store.Scope, eng *replay.Engine, offset, at int64) (book.DepthSnapshot, error) {
	cur, err := f.opts.Logs.Open(sc.Instrument, sc.Partition).OpenCursor()
	if err != nil {
		return book.DepthSnapshot{}, err
	}
	defer cur.Close()
	if err := cur.Seek(offset); err != nil {
		return book.DepthSnapshot{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return book.DepthSnapshot{}, err
		}
		ev, err := cur.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return book.DepthSnapshot{}, err
		}
		if ev.ArrivalTime > at {
			break
		}
		if err := eng.Process(ev); err != nil {
			return book.DepthSnapshot{}, err
		}
	}
	return f.finish(sc.Instrument, at, eng)
}

func (f *Facade) finish(instrument string, at int64, eng *replay.Engine) (book.DepthSnapshot, error) {
	snap := eng.Snapshot(f.opts.SnapshotDepth)
	snap.Instrument = instrument
	if f.opts.Scales != nil {
		ps, ss, err := f.opts.Scales(instrument, at)
		if err != nil {
			return book.DepthSnapshot{}, fmt.Errorf("query: scale lookup: %w", err)
		}
		snap.PriceScale, snap.SizeScale = ps, ss
	}
	return snap, nil
}

func (f *Facade) scope(instrument string, atMicros int64) (store.Scope, error) {
	partition, err := f.opts.Partitions(instrument, atMicros)
	if err != nil {
		return store.Scope{}, fmt.Errorf("query: resolve partition: %w", err)
	}
	return store.Scope{Instrument: instrument, Partition: partition}, nil
}
