package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"booktape/domain/book"
	"booktape/domain/event"
)

// ErrCorruptRecord reports a CRC mismatch or truncated encoding.
var ErrCorruptRecord = errors.New("checkpoint: corrupt record")

const codecVersion = 1

// Binary layout, big-endian, CRC32 (IEEE) over everything before it:
//
//	[ver:1]
//	[instLen:2][inst][partLen:2][part][chanLen:2][chan]
//	[marker suffix:29][offset:8]
//	[nbids:4]([price:8][size:8])* [nasks:4](...)*
//	[crc:4]
//
// Field order and widths are fixed; identical checkpoints encode to
// identical bytes, which the rebuild-idempotence guarantee depends on.

// Marshal encodes cp deterministically.
func Marshal(cp *Checkpoint) ([]byte, error) {
	if cp.Marker.Instrument != cp.Instrument {
		return nil, fmt.Errorf("checkpoint encode: marker instrument %q != scope %q",
			cp.Marker.Instrument, cp.Instrument)
	}
	n := len(cp.Bids) + len(cp.Asks)
	buf := make([]byte, 0, 64+16*n)
	buf = append(buf, codecVersion)
	var err error
	if buf, err = appendString(buf, cp.Instrument); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, cp.Partition); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, cp.Marker.Channel); err != nil {
		return nil, err
	}
	buf = cp.Marker.AppendBinary(buf)
	buf = binary.BigEndian.AppendUint64(buf, uint64(cp.Offset))
	if buf, err = appendLevels(buf, cp.Bids); err != nil {
		return nil, err
	}
	if buf, err = appendLevels(buf, cp.Asks); err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf)), nil
}

// Unmarshal decodes and CRC-verifies one checkpoint.
func Unmarshal(b []byte) (*Checkpoint, error) {
	if len(b) < 5 {
		return nil, ErrCorruptRecord
	}
	body, sum := b[:len(b)-4], binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, ErrCorruptRecord
	}
	if body[0] != codecVersion {
		return nil, fmt.Errorf("checkpoint decode: unknown version %d", body[0])
	}
	off := 1
	inst, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	part, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	channel, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	if off+event.KeySuffixLen+8 > len(body) {
		return nil, ErrCorruptRecord
	}
	marker, err := event.KeySuffixFromBinary(inst, channel, body[off:off+event.KeySuffixLen])
	if err != nil {
		return nil, err
	}
	off += event.KeySuffixLen
	logOff := int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	bids, off, err := readLevels(body, off)
	if err != nil {
		return nil, err
	}
	asks, off, err := readLevels(body, off)
	if err != nil {
		return nil, err
	}
	if off != len(body) {
		return nil, ErrCorruptRecord
	}
	return &Checkpoint{
		Instrument: inst,
		Partition:  part,
		Marker:     marker,
		Offset:     logOff,
		Bids:       bids,
		Asks:       asks,
	}, nil
}

// MarshalIndexEntry encodes e deterministically.
func MarshalIndexEntry(e *IndexEntry) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, codecVersion)
	var err error
	if buf, err = appendString(buf, e.Instrument); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, e.Partition); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, e.Key.Channel); err != nil {
		return nil, err
	}
	buf = e.Key.AppendBinary(buf)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Offset))
	buf = binary.BigEndian.AppendUint64(buf, e.SnapshotID)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf)), nil
}

// UnmarshalIndexEntry decodes and CRC-verifies one index entry.
func UnmarshalIndexEntry(b []byte) (*IndexEntry, error) {
	if len(b) < 5 {
		return nil, ErrCorruptRecord
	}
	body, sum := b[:len(b)-4], binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, ErrCorruptRecord
	}
	if body[0] != codecVersion {
		return nil, fmt.Errorf("index decode: unknown version %d", body[0])
	}
	off := 1
	inst, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	part, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	channel, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	if off+event.KeySuffixLen+16 != len(body) {
		return nil, ErrCorruptRecord
	}
	key, err := event.KeySuffixFromBinary(inst, channel, body[off:off+event.KeySuffixLen])
	if err != nil {
		return nil, err
	}
	off += event.KeySuffixLen
	return &IndexEntry{
		Instrument: inst,
		Partition:  part,
		Key:        key,
		Offset:     int64(binary.BigEndian.Uint64(body[off : off+8])),
		SnapshotID: binary.BigEndian.Uint64(body[off+8 : off+16]),
	}, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("checkpoint encode: string too long (%d)", len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func readString(b []byte, off int) (string, int, error) {
	if off+2 > len(b) {
		return "", 0, ErrCorruptRecord
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+n > len(b) {
		return "", 0, ErrCorruptRecord
	}
	return string(b[off : off+n]), off + n, nil
}

func appendLevels(buf []byte, levels []book.Level) ([]byte, error) {
	if len(levels) > math.MaxUint32 {
		return nil, fmt.Errorf("checkpoint encode: too many levels")
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(levels)))
	for _, lvl := range levels {
		buf = binary.BigEndian.AppendUint64(buf, uint64(lvl.Price))
		buf = binary.BigEndian.AppendUint64(buf, uint64(lvl.Size))
	}
	return buf, nil
}

func readLevels(b []byte, off int) ([]book.Level, int, error) {
	if off+4 > len(b) {
		return nil, 0, ErrCorruptRecord
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if off+16*n > len(b) {
		return nil, 0, ErrCorruptRecord
	}
	levels := make([]book.Level, n)
	for i := range levels {
		levels[i].Price = int64(binary.BigEndian.Uint64(b[off : off+8]))
		levels[i].Size = int64(binary.BigEndian.Uint64(b[off+8 : off+16]))
		off += 16
	}
	return levels, off, nil
}
