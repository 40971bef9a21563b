package event

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary event layout, all integers big-endian:
//
//	[ver:1][kind:1][side:1][flags:1]
//	[arrival:8][exchSeq:8][price:8][size:8][snapID:8]
//	[srcID:4][srcSeq:8]
//	[instLen:2][inst...][chanLen:2][chan...]
//
// The layout is fixed so identical events always encode to identical
// bytes; the source log and stores depend on that.
const (
	codecVersion = 1

	flagHasExchangeSeq = 1 << 0
	flagSnapshotGroup  = 1 << 1

	fixedHeaderLen = 4 + 8*5 + 4 + 8
)

// AppendMarshal appends the binary encoding of e to dst.
func AppendMarshal(dst []byte, e *Event) ([]byte, error) {
	if len(e.Instrument) > math.MaxUint16 || len(e.Channel) > math.MaxUint16 {
		return nil, fmt.Errorf("event encode: instrument/channel too long")
	}
	var flags byte
	if e.HasExchangeSeq {
		flags |= flagHasExchangeSeq
	}
	if e.IsSnapshotGroup {
		flags |= flagSnapshotGroup
	}
	dst = append(dst, codecVersion, byte(e.Kind), byte(e.Side), flags)
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.ArrivalTime))
	dst = binary.BigEndian.AppendUint64(dst, e.ExchangeSeq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.Price))
	dst = binary.BigEndian.AppendUint64(dst, uint64(e.Size))
	dst = binary.BigEndian.AppendUint64(dst, e.SnapshotID)
	dst = binary.BigEndian.AppendUint32(dst, e.SourceID)
	dst = binary.BigEndian.AppendUint64(dst, e.SourceSeq)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(e.Instrument)))
	dst = append(dst, e.Instrument...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(e.Channel)))
	dst = append(dst, e.Channel...)
	return dst, nil
}

// Unmarshal decodes one event from b.
func Unmarshal(b []byte) (*Event, error) {
	if len(b) < fixedHeaderLen+4 {
		return nil, fmt.Errorf("event decode: short record (%d bytes)", len(b))
	}
	if b[0] != codecVersion {
		return nil, fmt.Errorf("event decode: unknown version %d", b[0])
	}
	e := &Event{
		Kind:            Kind(b[1]),
		Side:            Side(b[2]),
		HasExchangeSeq:  b[3]&flagHasExchangeSeq != 0,
		IsSnapshotGroup: b[3]&flagSnapshotGroup != 0,
		ArrivalTime:     int64(binary.BigEndian.Uint64(b[4:12])),
		ExchangeSeq:     binary.BigEndian.Uint64(b[12:20]),
		Price:           int64(binary.BigEndian.Uint64(b[20:28])),
		Size:            int64(binary.BigEndian.Uint64(b[28:36])),
		SnapshotID:      binary.BigEndian.Uint64(b[36:44]),
		SourceID:        binary.BigEndian.Uint32(b[44:48]),
		SourceSeq:       binary.BigEndian.Uint64(b[48:56]),
	}
	off := fixedHeaderLen
	inst, off, err := readString(b, off)
	if err != nil {
		return nil, err
	}
	ch, off, err := readString(b, off)
	if err != nil {
		return nil, err
	}
	if off != len(b) {
		return nil, fmt.Errorf("event decode: %d trailing bytes", len(b)-off)
	}
	e.Instrument = inst
	e.Channel = ch
	return e, nil
}

func readString(b []byte, off int) (string, int, error) {
	if off+2 > len(b) {
		return "", 0, fmt.Errorf("event decode: truncated string length at %d", off)
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+n > len(b) {
		return "", 0, fmt.Errorf("event decode: truncated string at %d", off)
	}
	return string(b[off : off+n]), off + n, nil
}
