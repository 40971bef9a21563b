// Package event defines the canonical replay event model and the
// deterministic total-order key used by every other component. Events
// are created once by the ingestion layer and never mutated; price and
// size are scaled integers with an instrument-specific implied decimal
// point supplied through an injected ScaleLookup.
package event

// Kind classifies one observed book or trade event.
type Kind uint8

const (
	KindSnapshotLevel Kind = iota
	KindIncremental
	KindTrade
	KindGap
	KindReset
	KindHeartbeat
	KindSessionBoundary
)

func (k Kind) String() string {
	switch k {
	case KindSnapshotLevel:
		return "SNAPSHOT_LEVEL"
	case KindIncremental:
		return "INCREMENTAL_UPDATE"
	case KindTrade:
		return "TRADE"
	case KindGap:
		return "GAP"
	case KindReset:
		return "RESET"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindSessionBoundary:
		return "SESSION_BOUNDARY"
	default:
		return "UNKNOWN"
	}
}

// Side of the book an event touches. Only meaningful for
// book-affecting kinds.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the two defined sides.
func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

// Event is one observed update, normalized by the ingestion layer.
//
// ArrivalTime is the local observation timestamp in microseconds and is
// authoritative for ordering; exchange-reported time never participates.
// Size is always the absolute level size, never a delta; Size == 0
// deletes the price level.
type Event struct {
	Instrument string
	Channel    string

	ArrivalTime    int64
	ExchangeSeq    uint64
	HasExchangeSeq bool

	Kind Kind
	Side Side

	Price int64
	Size  int64

	// SnapshotID identifies the snapshot group a SnapshotLevel row
	// belongs to. Rows of one group share the ID; a new ID starts a
	// new group.
	SnapshotID      uint64
	IsSnapshotGroup bool

	// Lineage, used as the final ordering tie-breakers.
	SourceID  uint32
	SourceSeq uint64
}

// Key returns the event's total-order key.
func (e *Event) Key() Key {
	return Key{
		Instrument:     e.Instrument,
		Channel:        e.Channel,
		ArrivalTime:    e.ArrivalTime,
		ExchangeSeq:    e.ExchangeSeq,
		HasExchangeSeq: e.HasExchangeSeq,
		SourceID:       e.SourceID,
		SourceSeq:      e.SourceSeq,
	}
}

// BookAffecting reports whether the event mutates a price level.
func (e *Event) BookAffecting() bool {
	return e.Kind == KindSnapshotLevel || e.Kind == KindIncremental
}

// ScaleLookup resolves the implied-decimal scale factors for an
// instrument at a point in time. It is owned by the symbol-metadata
// collaborator and injected at construction; replay code never reads
// scales from ambient state.
type ScaleLookup func(instrument string, atMicros int64) (priceScale, sizeScale int32, err error)
