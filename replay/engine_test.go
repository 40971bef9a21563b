package replay

import (
	"bytes"
	"errors"
	"testing"

	"booktape/checkpoint"
	"booktape/domain/book"
	"booktape/domain/event"
)

// ev builds a test event; arrival doubles as the lineage sequence so
// distinct arrivals give strictly increasing keys.
func ev(arrival int64, kind event.Kind, side event.Side, price, size int64, snapID uint64) event.Event {
	return event.Event{
		Instrument:      "BTC-USD",
		Channel:         "book",
		ArrivalTime:     arrival,
		Kind:            kind,
		Side:            side,
		Price:           price,
		Size:            size,
		SnapshotID:      snapID,
		IsSnapshotGroup: kind == event.KindSnapshotLevel,
		SourceID:        1,
		SourceSeq:       uint64(arrival),
	}
}

func snapRow(arrival int64, side event.Side, price, size int64, snapID uint64) event.Event {
	return ev(arrival, event.KindSnapshotLevel, side, price, size, snapID)
}

func inc(arrival int64, side event.Side, price, size int64) event.Event {
	return ev(arrival, event.KindIncremental, side, price, size, 0)
}

func runAll(t *testing.T, e *Engine, evs []event.Event) {
	t.Helper()
	if err := e.Run(event.NewSliceIterator(evs)); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func levels(t *testing.T, e *Engine, side event.Side) []book.Level {
	t.Helper()
	return e.Book().Enumerate(side, 0)
}

func TestSnapshotGroupResetsExactlyOnce(t *testing.T) {
	e := New(Options{})
	// Three rows of one group: a per-row reset would drop the first two.
	runAll(t, e, []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		snapRow(2, event.Bid, 99, 3, 1),
		snapRow(3, event.Ask, 101, 4, 1),
	})
	if e.State() != Live {
		t.Fatalf("state = %v, want live", e.State())
	}
	if got := levels(t, e, event.Bid); len(got) != 2 {
		t.Errorf("bids = %v, want both snapshot rows", got)
	}
}

func TestNewSnapshotGroupReplacesBook(t *testing.T) {
	e := New(Options{})
	runAll(t, e, []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		inc(2, event.Bid, 98, 7),
		snapRow(3, event.Bid, 200, 1, 2),
		snapRow(4, event.Ask, 201, 2, 2),
	})
	bids := levels(t, e, event.Bid)
	if len(bids) != 1 || bids[0].Price != 200 {
		t.Errorf("pre-snapshot levels survived the new group: %v", bids)
	}
}

func TestMalformedSnapshotRowLeavesLiveBookIntact(t *testing.T) {
	e := New(Options{})
	runAll(t, e, []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		snapRow(2, event.Bid, 99, 3, 1),
	})

	// A malformed first row of a new group must fail before the reset,
	// not after it.
	bad := snapRow(3, event.Side(9), 200, 1, 2)
	var me *event.MalformedEventError
	if err := e.Process(&bad); !errors.As(err, &me) {
		t.Fatalf("got %v, want MalformedEventError", err)
	}
	if got := levels(t, e, event.Bid); len(got) != 2 {
		t.Errorf("bids = %v, want the live book untouched", got)
	}
	if e.State() != Live {
		t.Errorf("state = %v, want live", e.State())
	}

	// A valid first row of the group still opens it normally.
	good := snapRow(4, event.Bid, 200, 1, 2)
	if err := e.Process(&good); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := levels(t, e, event.Bid); len(got) != 1 || got[0].Price != 200 {
		t.Errorf("bids = %v, want only the new group's row", got)
	}
}

func TestCheckpointCadenceByEventCount(t *testing.T) {
	var markers []event.Key
	e := New(Options{
		Checkpoint: CheckpointPolicy{EveryEvents: 2},
		Sink: SinkFunc(func(snap book.DepthSnapshot) error {
			markers = append(markers, snap.AsOf)
			return nil
		}),
	})
	evs := []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		snapRow(2, event.Ask, 101, 4, 1),
		inc(3, event.Bid, 99, 3),
		inc(4, event.Bid, 100, 6),
		inc(5, event.Ask, 102, 2),
	}
	runAll(t, e, evs)
	// Five events, cadence two: after events 2 and 4, none for the
	// trailing partial window.
	if len(markers) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(markers))
	}
	if markers[0] != evs[1].Key() || markers[1] != evs[3].Key() {
		t.Errorf("markers = %v, want keys of events 2 and 4", markers)
	}
}

func TestCheckpointCadenceBySpan(t *testing.T) {
	var markers []event.Key
	e := New(Options{
		Checkpoint: CheckpointPolicy{EverySpanMicros: 10},
		Sink: SinkFunc(func(snap book.DepthSnapshot) error {
			markers = append(markers, snap.AsOf)
			return nil
		}),
	})
	runAll(t, e, []event.Event{
		snapRow(0, event.Bid, 100, 5, 1),
		inc(5, event.Bid, 99, 3),
		inc(10, event.Bid, 98, 2),
		inc(12, event.Ask, 101, 1),
		inc(25, event.Ask, 102, 1),
	})
	if len(markers) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(markers))
	}
	if markers[0].ArrivalTime != 10 || markers[1].ArrivalTime != 25 {
		t.Errorf("markers at %d and %d, want 10 and 25",
			markers[0].ArrivalTime, markers[1].ArrivalTime)
	}
}

func TestOutOfOrderHaltsBeforeMutation(t *testing.T) {
	e := New(Options{})
	runAll(t, e, []event.Event{snapRow(10, event.Bid, 100, 5, 1)})

	stale := inc(5, event.Bid, 100, 0)
	err := e.Process(&stale)
	var ooo *OutOfOrderError
	if !errors.As(err, &ooo) {
		t.Fatalf("got %v, want OutOfOrderError", err)
	}
	if bids := levels(t, e, event.Bid); len(bids) != 1 || bids[0].Size != 5 {
		t.Errorf("offending event mutated state: %v", bids)
	}
	// Equal keys are violations too.
	dup := snapRow(10, event.Bid, 100, 5, 1)
	if err := e.Process(&dup); !errors.As(err, &ooo) {
		t.Errorf("duplicate key: got %v, want OutOfOrderError", err)
	}
}

func TestPreSnapshotHalt(t *testing.T) {
	e := New(Options{})
	first := inc(1, event.Bid, 100, 5)
	if err := e.Process(&first); !errors.Is(err, ErrPreSnapshot) {
		t.Fatalf("got %v, want ErrPreSnapshot", err)
	}
}

func TestPreSnapshotBufferReplaysAfterFirstGroup(t *testing.T) {
	e := New(Options{PreSnapshot: BufferUntilSnapshot})
	runAll(t, e, []event.Event{
		inc(1, event.Bid, 99, 3),
		snapRow(2, event.Bid, 100, 5, 1),
		ev(3, event.KindTrade, event.Bid, 100, 1, 0), // ends the group, flushes
	})
	bids := levels(t, e, event.Bid)
	if len(bids) != 2 || bids[0].Price != 100 || bids[1].Price != 99 {
		t.Errorf("bids = %v, want snapshot plus replayed buffer", bids)
	}
	if e.Stats().Buffered != 1 {
		t.Errorf("buffered = %d, want 1", e.Stats().Buffered)
	}
	// Snapshot row, trade, and the flushed buffered event: each counts
	// as applied exactly once.
	if e.Stats().Applied != 3 {
		t.Errorf("applied = %d, want 3", e.Stats().Applied)
	}
}

func TestGapReturnsToEmpty(t *testing.T) {
	e := New(Options{})
	runAll(t, e, []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		ev(2, event.KindGap, 0, 0, 0, 0),
	})
	if e.State() != Empty {
		t.Fatalf("state = %v, want empty after gap", e.State())
	}
	if e.Book().Depth(event.Bid) != 0 {
		t.Error("gap must clear the book")
	}
	next := inc(3, event.Bid, 100, 5)
	if err := e.Process(&next); !errors.Is(err, ErrPreSnapshot) {
		t.Errorf("post-gap incremental: got %v, want ErrPreSnapshot", err)
	}
}

func TestSkipMalformedCountsAndContinues(t *testing.T) {
	e := New(Options{SkipMalformed: true})
	bad := inc(2, event.Side(9), 100, 1)
	runAll(t, e, []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		bad,
		inc(3, event.Bid, 99, 3),
	})
	if e.Stats().Skipped != 1 {
		t.Errorf("skipped = %d, want 1", e.Stats().Skipped)
	}
	if got := levels(t, e, event.Bid); len(got) != 2 {
		t.Errorf("later events must still apply: %v", got)
	}
	// Out-of-order is never skippable.
	stale := inc(1, event.Bid, 98, 1)
	var ooo *OutOfOrderError
	if err := e.Process(&stale); !errors.As(err, &ooo) {
		t.Errorf("got %v, want OutOfOrderError even in skip mode", err)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	markerRow := snapRow(5, event.Bid, 100, 5, 1)
	marker := markerRow.Key()
	cp := &checkpoint.Checkpoint{
		Instrument: "BTC-USD",
		Partition:  "2026-08-27",
		Marker:     marker,
		Bids:       []book.Level{{Price: 100, Size: 5}},
		Asks:       []book.Level{{Price: 101, Size: 4}},
	}

	e := New(Options{})
	if err := e.ResumeFrom(cp); err != nil {
		t.Fatalf("resume fresh: %v", err)
	}
	if e.State() != Live {
		t.Fatal("resumed engine must be live")
	}
	next := inc(6, event.Bid, 100, 0)
	if err := e.Process(&next); err != nil {
		t.Fatalf("process after resume: %v", err)
	}
	if e.Book().Depth(event.Bid) != 0 {
		t.Error("update after resume not applied")
	}

	// An engine positioned elsewhere must refuse the checkpoint.
	e2 := New(Options{})
	runAll(t, e2, []event.Event{snapRow(9, event.Bid, 1, 1, 1)})
	var conflict *ReplayStateConflictError
	if err := e2.ResumeFrom(cp); !errors.As(err, &conflict) {
		t.Errorf("got %v, want ReplayStateConflictError", err)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	evs := []event.Event{
		snapRow(1, event.Bid, 100, 5, 1),
		snapRow(2, event.Ask, 101, 4, 1),
		inc(3, event.Bid, 99, 3),
		inc(4, event.Bid, 100, 0),
		inc(5, event.Ask, 102, 8),
		inc(6, event.Ask, 101, 0),
	}
	encode := func() []byte {
		var out [][]byte
		e := New(Options{
			Checkpoint: CheckpointPolicy{EveryEvents: 3},
			Sink: SinkFunc(func(snap book.DepthSnapshot) error {
				b, err := checkpoint.Marshal(&checkpoint.Checkpoint{
					Instrument: snap.AsOf.Instrument,
					Partition:  "p",
					Marker:     snap.AsOf,
					Bids:       snap.Bids,
					Asks:       snap.Asks,
				})
				if err != nil {
					return err
				}
				out = append(out, b)
				return nil
			}),
		})
		runAll(t, e, evs)
		return bytes.Join(out, nil)
	}
	if !bytes.Equal(encode(), encode()) {
		t.Error("identical event slices must produce byte-identical checkpoints")
	}
}
