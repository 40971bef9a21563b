package eventlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"booktape/domain/event"
)

// Writer appends framed event records, rotating segments by size.
// Single-writer per scope; the ingestion boundary owns it.
type Writer struct {
	cfg      Config
	file     *os.File
	segIndex int
	segBytes int64
	buf      []byte
}

// OpenWriter opens the scope's log for appending, continuing the last
// existing segment.
func OpenWriter(cfg Config) (*Writer, error) {
	cfg.defaults()
	if err := ensureDir(cfg.Dir); err != nil {
		return nil, err
	}
	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	w := &Writer{cfg: cfg, segIndex: len(segs)}
	if len(segs) > 0 {
		w.segIndex = len(segs) - 1
	}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openSegment() error {
	f, err := os.OpenFile(segmentPath(w.cfg.Dir, w.segIndex), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file = f
	w.segBytes = st.Size()
	return nil
}

// Append frames and writes one event.
func (w *Writer) Append(ev *event.Event) error {
	payload, err := event.AppendMarshal(w.buf[:0], ev)
	if err != nil {
		return err
	}
	w.buf = payload

	recLen := int64(len(payload)) + frameOverhead
	if w.segBytes > 0 && w.segBytes+recLen > w.cfg.SegmentSize {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	frame := make([]byte, 0, recLen)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(payload))
	n, err := w.file.Write(frame)
	if err != nil {
		return fmt.Errorf("eventlog append: %w", err)
	}
	w.segBytes += int64(n)
	return nil
}

func (w *Writer) rotate() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.segIndex++
	return w.openSegment()
}

// Sync flushes the current segment to disk.
func (w *Writer) Sync() error {
	return w.file.Sync()
}

func (w *Writer) Close() error {
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
