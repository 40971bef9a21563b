package eventlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"booktape/domain/event"
)

type segmentInfo struct {
	path string
	base int64
	size int64
}

// Reader is an offset-aware cursor over one scope's log. Offsets are
// logical byte positions over the segments in log order, so a captured
// offset stays valid across reopen.
type Reader struct {
	segs   []segmentInfo
	cur    int
	file   *os.File
	segPos int64
	total  int64
}

// OpenReader opens a cursor positioned at offset 0.
func OpenReader(dir string) (*Reader, error) {
	paths, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	r := &Reader{}
	var base int64
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		r.segs = append(r.segs, segmentInfo{path: p, base: base, size: st.Size()})
		base += st.Size()
	}
	r.total = base
	return r, nil
}

// Next implements event.Iterator, returning io.EOF at the end of the
// last segment.
func (r *Reader) Next() (*event.Event, error) {
	for {
		if r.cur >= len(r.segs) {
			return nil, io.EOF
		}
		seg := r.segs[r.cur]
		if r.segPos >= seg.size {
			if err := r.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if r.file == nil {
			if err := r.openCurrent(); err != nil {
				return nil, err
			}
		}
		return r.readRecord()
	}
}

func (r *Reader) readRecord() (*event.Event, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.file, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("eventlog read at %d: %w", r.Offset(), err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, int(n)+4)
	if _, err := io.ReadFull(r.file, body); err != nil {
		return nil, fmt.Errorf("eventlog read at %d: %w", r.Offset(), err)
	}
	payload, sum := body[:n], binary.BigEndian.Uint32(body[n:])
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("eventlog: crc mismatch at offset %d", r.Offset())
	}
	ev, err := event.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	r.segPos += int64(n) + frameOverhead
	return ev, nil
}

// Offset returns the logical offset at which the next record starts.
func (r *Reader) Offset() int64 {
	if r.cur >= len(r.segs) {
		return r.total
	}
	return r.segs[r.cur].base + r.segPos
}

// Seek repositions the cursor to a logical offset previously captured
// with Offset. Seeking into the middle of a record corrupts the read.
func (r *Reader) Seek(offset int64) error {
	if offset < 0 || offset > r.total {
		return fmt.Errorf("eventlog seek: offset %d out of range [0,%d]", offset, r.total)
	}
	r.closeFile()
	r.cur = len(r.segs)
	r.segPos = 0
	for i, seg := range r.segs {
		if offset < seg.base+seg.size {
			r.cur = i
			r.segPos = offset - seg.base
			break
		}
	}
	return nil
}

func (r *Reader) advance() error {
	r.closeFile()
	r.cur++
	r.segPos = 0
	return nil
}

func (r *Reader) openCurrent() error {
	f, err := os.Open(r.segs[r.cur].path)
	if err != nil {
		return err
	}
	if r.segPos > 0 {
		if _, err := f.Seek(r.segPos, io.SeekStart); err != nil {
			_ = f.Close()
			return err
		}
	}
	r.file = f
	return nil
}

func (r *Reader) closeFile() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

func (r *Reader) Close() error {
	r.closeFile()
	return nil
}
