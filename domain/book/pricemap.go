package book

import "github.com/tidwall/btree"

// OrderedPriceMap is one side of the book: price -> absolute size,
// positive sizes only, deterministic in-order traversal. Implementations
// are swappable without touching engine logic; BTreeMap is the default,
// SortedMap suits shallow books.
type OrderedPriceMap interface {
	Set(price, size int64)
	Delete(price int64)
	Get(price int64) (int64, bool)
	Len() int
	// Ascend visits levels in increasing price order until fn returns
	// false; Descend in decreasing order.
	Ascend(fn func(price, size int64) bool)
	Descend(fn func(price, size int64) bool)
	Clear()
}

// BTreeMap backs a side with a B-tree keyed by price.
type BTreeMap struct {
	m btree.Map[int64, int64]
}

func NewBTreeMap() *BTreeMap {
	return &BTreeMap{}
}

func (b *BTreeMap) Set(price, size int64) {
	b.m.Set(price, size)
}

func (b *BTreeMap) Delete(price int64) {
	b.m.Delete(price)
}

func (b *BTreeMap) Get(price int64) (int64, bool) {
	return b.m.Get(price)
}

func (b *BTreeMap) Len() int {
	return b.m.Len()
}

func (b *BTreeMap) Ascend(fn func(price, size int64) bool) {
	b.m.Scan(fn)
}

func (b *BTreeMap) Descend(fn func(price, size int64) bool) {
	b.m.Reverse(fn)
}

func (b *BTreeMap) Clear() {
	b.m = btree.Map[int64, int64]{}
}
