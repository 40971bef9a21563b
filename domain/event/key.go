package event

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// KeySuffixLen is the length of the fixed-width binary suffix produced
// by AppendBinary: arrival(8) + presence(1) + exchange seq(8) +
// source id(4) + source seq(8).
const KeySuffixLen = 29

// Key is the composite total-order key:
// (instrument, channel, arrival time, exchange sequence or absent,
// source id, source sequence), compared lexicographically. The lineage
// pair guarantees two distinct events never compare equal. An absent
// exchange sequence sorts before any present one.
type Key struct {
	Instrument     string
	Channel        string
	ArrivalTime    int64
	ExchangeSeq    uint64
	HasExchangeSeq bool
	SourceID       uint32
	SourceSeq      uint64
}

// Compare returns -1, 0, or +1 ordering k against o.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Instrument, o.Instrument); c != 0 {
		return c
	}
	if c := strings.Compare(k.Channel, o.Channel); c != 0 {
		return c
	}
	if k.ArrivalTime != o.ArrivalTime {
		return cmpInt64(k.ArrivalTime, o.ArrivalTime)
	}
	if k.HasExchangeSeq != o.HasExchangeSeq {
		if !k.HasExchangeSeq {
			return -1
		}
		return 1
	}
	if k.HasExchangeSeq && k.ExchangeSeq != o.ExchangeSeq {
		return cmpUint64(k.ExchangeSeq, o.ExchangeSeq)
	}
	if k.SourceID != o.SourceID {
		if k.SourceID < o.SourceID {
			return -1
		}
		return 1
	}
	return cmpUint64(k.SourceSeq, o.SourceSeq)
}

// Less reports whether k orders strictly before o.
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	seq := "-"
	if k.HasExchangeSeq {
		seq = fmt.Sprintf("%d", k.ExchangeSeq)
	}
	return fmt.Sprintf("%s/%s@%d#%s(%d:%d)",
		k.Instrument, k.Channel, k.ArrivalTime, seq, k.SourceID, k.SourceSeq)
}

// AppendBinary appends the fixed-width suffix of k (everything except
// instrument and channel, which callers scope through key prefixes).
// Byte order equals Compare order, so the encoding can be used directly
// as a sorted store key. Arrival time is sign-flipped so pre-epoch
// times still sort below positive ones byte-wise.
func (k Key) AppendBinary(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(k.ArrivalTime)^(1<<63))
	if k.HasExchangeSeq {
		dst = append(dst, 1)
		dst = binary.BigEndian.AppendUint64(dst, k.ExchangeSeq)
	} else {
		// Absent sequence encodes as zero so byte order matches
		// Compare, which ignores the value when absent.
		dst = append(dst, 0)
		dst = binary.BigEndian.AppendUint64(dst, 0)
	}
	dst = binary.BigEndian.AppendUint32(dst, k.SourceID)
	return binary.BigEndian.AppendUint64(dst, k.SourceSeq)
}

// KeySuffixFromBinary decodes a suffix produced by AppendBinary.
// Instrument and channel are supplied by the caller's scope.
func KeySuffixFromBinary(instrument, channel string, b []byte) (Key, error) {
	if len(b) != KeySuffixLen {
		return Key{}, fmt.Errorf("key suffix: want %d bytes, got %d", KeySuffixLen, len(b))
	}
	return Key{
		Instrument:     instrument,
		Channel:        channel,
		ArrivalTime:    int64(binary.BigEndian.Uint64(b[0:8]) ^ (1 << 63)),
		HasExchangeSeq: b[8] == 1,
		ExchangeSeq:    binary.BigEndian.Uint64(b[9:17]),
		SourceID:       binary.BigEndian.Uint32(b[17:21]),
		SourceSeq:      binary.BigEndian.Uint64(b[21:29]),
	}, nil
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
