package eventlog

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"booktape/domain/event"
)

func testEvent(i int) *event.Event {
	return &event.Event{
		Instrument:  "BTC-USD",
		Channel:     "book",
		ArrivalTime: int64(1000 + i),
		Kind:        event.KindIncremental,
		Side:        event.Bid,
		Price:       int64(100 + i),
		Size:        int64(i + 1),
		SourceID:    1,
		SourceSeq:   uint64(i),
	}
}

func writeEvents(t *testing.T, dir string, segSize int64, n int) {
	t.Helper()
	w, err := OpenWriter(Config{Dir: dir, SegmentSize: segSize})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Append(testEvent(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, 1<<20, 10)

	r, err := OpenReader(dir)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()
	for i := 0; i < 10; i++ {
		ev, err := r.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if ev.SourceSeq != uint64(i) || ev.Price != int64(100+i) {
			t.Errorf("record %d: got seq=%d price=%d", i, ev.SourceSeq, ev.Price)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("after last record: got %v, want io.EOF", err)
	}
}

func TestRotationSpansSegments(t *testing.T) {
	dir := t.TempDir()
	// Tiny segments so ten records spread over several files.
	writeEvents(t, dir, 128, 10)

	segs, err := listSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) < 2 {
		t.Fatalf("got %d segments, want rotation to produce several", len(segs))
	}

	r, err := OpenReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var count int
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if ev.SourceSeq != uint64(count) {
			t.Fatalf("record %d out of order across rotation: seq=%d", count, ev.SourceSeq)
		}
		count++
	}
	if count != 10 {
		t.Errorf("read %d records, want 10", count)
	}
}

func TestOffsetSeekResumesAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, 128, 10)

	r, err := OpenReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := r.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	mark := r.Offset()
	r.Close()

	// A captured offset stays valid for a fresh cursor.
	r2, err := OpenReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	if err := r2.Seek(mark); err != nil {
		t.Fatalf("seek: %v", err)
	}
	ev, err := r2.Next()
	if err != nil {
		t.Fatalf("next after seek: %v", err)
	}
	if ev.SourceSeq != 4 {
		t.Errorf("resumed at seq=%d, want 4", ev.SourceSeq)
	}
	if err := r2.Seek(r2.Offset() + 1<<30); err == nil {
		t.Error("seek past end of log must fail")
	}
}

func TestWriterContinuesLastSegment(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, 1<<20, 3)
	writeEvents(t, dir, 1<<20, 3)

	segs, err := listSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("reopen started a new segment: %d files", len(segs))
	}
	r, err := OpenReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var count int
	for {
		if _, err := r.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 6 {
		t.Errorf("read %d records, want 6", count)
	}
}

func TestCorruptRecordDetected(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, 1<<20, 2)

	segs, err := listSegments(dir)
	if err != nil || len(segs) != 1 {
		t.Fatalf("segments: %v %v", segs, err)
	}
	data, err := os.ReadFile(segs[0])
	if err != nil {
		t.Fatal(err)
	}
	data[10] ^= 0xff
	if err := os.WriteFile(segs[0], data, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = r.Next()
	if err == nil || !strings.Contains(err.Error(), "crc") {
		t.Errorf("got %v, want crc mismatch", err)
	}
}

func TestTreeScopeLayout(t *testing.T) {
	tr := Tree{Root: t.TempDir()}
	got := tr.Dir("BTC-USD", "2026-08-27")
	want := filepath.Join(tr.Root, "BTC-USD", "2026-08-27")
	if got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}
	cur, err := tr.Open("BTC-USD", "2026-08-27").OpenCursor()
	if err != nil {
		t.Fatalf("cursor over empty scope: %v", err)
	}
	defer cur.Close()
	if _, err := cur.Next(); err != io.EOF {
		t.Errorf("empty scope: got %v, want io.EOF", err)
	}
}
