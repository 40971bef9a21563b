package book

import "booktape/domain/event"

// DepthSnapshot is an enumerated, immutable view of a book at one
// ordering-key marker: full or depth-limited, bids best-first, asks
// best-first. PriceScale/SizeScale carry the instrument's implied
// decimal point so consumers can interpret the scaled integers.
type DepthSnapshot struct {
	Instrument string
	AsOf       event.Key
	Bids       []Level
	Asks       []Level
	PriceScale int32
	SizeScale  int32
}

// SnapshotOf enumerates b at marker asOf.
func SnapshotOf(b *Book, instrument string, asOf event.Key, maxDepth int) DepthSnapshot {
	return DepthSnapshot{
		Instrument: instrument,
		AsOf:       asOf,
		Bids:       b.Enumerate(event.Bid, maxDepth),
		Asks:       b.Enumerate(event.Ask, maxDepth),
	}
}
