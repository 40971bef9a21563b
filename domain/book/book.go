// Package book implements full-depth order book state for one
// instrument: two ordered price->size mappings with deterministic
// enumeration (bids descending, asks ascending). State is owned by
// exactly one in-flight replay session and mutated event by event.
package book

import (
	"booktape/domain/event"
)

// Level is one price level: scaled-integer price and absolute size.
type Level struct {
	Price int64
	Size  int64
}

// Book holds both sides of one instrument's limit order book. Absence
// of a price key means no liquidity at that price; sizes are always
// positive.
type Book struct {
	bids OrderedPriceMap
	asks OrderedPriceMap
}

// New returns an empty book backed by B-tree sides.
func New() *Book {
	return NewWith(func() OrderedPriceMap { return NewBTreeMap() })
}

// NewWith returns an empty book whose sides come from factory.
func NewWith(factory func() OrderedPriceMap) *Book {
	return &Book{bids: factory(), asks: factory()}
}

// Reset clears both sides. Called once at the first row of each fresh
// snapshot group.
func (b *Book) Reset() {
	b.bids.Clear()
	b.asks.Clear()
}

// Validate performs Apply's field checks without touching any book.
// Callers that must stay unmutated on a bad row check first.
func Validate(ev *event.Event) error {
	if !ev.BookAffecting() {
		return &event.MalformedEventError{Key: ev.Key(), Reason: "kind " + ev.Kind.String() + " does not affect the book"}
	}
	if !ev.Side.Valid() {
		return &event.MalformedEventError{Key: ev.Key(), Reason: "invalid side"}
	}
	if ev.Size < 0 {
		return &event.MalformedEventError{Key: ev.Key(), Reason: "negative size"}
	}
	return nil
}

// Apply mutates one price level from a book-affecting event: size zero
// removes the level, any other size upserts it. Events with an invalid
// side/kind combination fail with MalformedEventError and leave the
// book untouched.
func (b *Book) Apply(ev *event.Event) error {
	if err := Validate(ev); err != nil {
		return err
	}
	side := b.side(ev.Side)
	if ev.Size == 0 {
		side.Delete(ev.Price)
		return nil
	}
	side.Set(ev.Price, ev.Size)
	return nil
}

// Load replaces the book's content with previously enumerated levels,
// typically from a restored checkpoint. Zero-size levels are dropped.
func (b *Book) Load(bids, asks []Level) {
	b.Reset()
	for _, lvl := range bids {
		if lvl.Size > 0 {
			b.bids.Set(lvl.Price, lvl.Size)
		}
	}
	for _, lvl := range asks {
		if lvl.Size > 0 {
			b.asks.Set(lvl.Price, lvl.Size)
		}
	}
}

// Enumerate returns up to maxDepth levels of one side in deterministic
// order: bids descending by price, asks ascending. maxDepth <= 0 means
// full depth.
func (b *Book) Enumerate(side event.Side, maxDepth int) []Level {
	m := b.side(side)
	out := make([]Level, 0, enumCap(m.Len(), maxDepth))
	visit := func(price, size int64) bool {
		out = append(out, Level{Price: price, Size: size})
		return maxDepth <= 0 || len(out) < maxDepth
	}
	if side == event.Bid {
		m.Descend(visit)
	} else {
		m.Ascend(visit)
	}
	return out
}

// Depth returns the number of populated levels on one side.
func (b *Book) Depth(side event.Side) int {
	return b.side(side).Len()
}

func (b *Book) side(s event.Side) OrderedPriceMap {
	if s == event.Bid {
		return b.bids
	}
	return b.asks
}

func enumCap(n, maxDepth int) int {
	if maxDepth > 0 && maxDepth < n {
		return maxDepth
	}
	return n
}
