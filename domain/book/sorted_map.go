package book

import "sort"

// SortedMap backs a side with a price-sorted slice and binary
// insertion. For shallow books the linear memory beats tree pointers.
type SortedMap struct {
	levels []Level
}

func NewSortedMap() *SortedMap {
	return &SortedMap{}
}

func (s *SortedMap) search(price int64) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return s.levels[i].Price >= price
	})
	return i, i < len(s.levels) && s.levels[i].Price == price
}

func (s *SortedMap) Set(price, size int64) {
	i, ok := s.search(price)
	if ok {
		s.levels[i].Size = size
		return
	}
	s.levels = append(s.levels, Level{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = Level{Price: price, Size: size}
}

func (s *SortedMap) Delete(price int64) {
	i, ok := s.search(price)
	if !ok {
		return
	}
	s.levels = append(s.levels[:i], s.levels[i+1:]...)
}

func (s *SortedMap) Get(price int64) (int64, bool) {
	i, ok := s.search(price)
	if !ok {
		return 0, false
	}
	return s.levels[i].Size, true
}

func (s *SortedMap) Len() int {
	return len(s.levels)
}

func (s *SortedMap) Ascend(fn func(price, size int64) bool) {
	for _, lvl := range s.levels {
		if !fn(lvl.Price, lvl.Size) {
			return
		}
	}
}

func (s *SortedMap) Descend(fn func(price, size int64) bool) {
	for i := len(s.levels) - 1; i >= 0; i-- {
		if !fn(s.levels[i].Price, s.levels[i].Size) {
			return
		}
	}
}

func (s *SortedMap) Clear() {
	s.levels = s.levels[:0]
}
