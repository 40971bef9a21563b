// Package store persists the builder's two derived artifacts in a
// pebble database: checkpoints and snapshot-index entries, both keyed
// so that iteration order equals ordering-key order. Rows are
// write-once; a scoped rebuild replaces a scope's rows in one atomic
// batch. Reads may be shared freely across concurrent facade calls.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/pebble"

	"booktape/checkpoint"
)

// Scope addresses one (instrument, partition) rebuild unit.
type Scope struct {
	Instrument string
	Partition  string
}

func (s Scope) String() string {
	return s.Instrument + "/" + s.Partition
}

func (s Scope) validate() error {
	if s.Instrument == "" || s.Partition == "" {
		return errors.New("store: empty scope component")
	}
	if strings.ContainsAny(s.Instrument, "/") || strings.ContainsAny(s.Partition, "/") {
		return fmt.Errorf("store: scope %q contains separator", s)
	}
	return nil
}

const (
	prefixCheckpoint = "cp"
	prefixIndex      = "si"
)

// Store wraps one pebble database holding every scope's artifacts.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// scopeKey builds "<kind>/<instrument>/<partition>/" + suffix.
func scopeKey(kind string, sc Scope, suffix []byte) []byte {
	k := make([]byte, 0, len(kind)+len(sc.Instrument)+len(sc.Partition)+3+len(suffix))
	k = append(k, kind...)
	k = append(k, '/')
	k = append(k, sc.Instrument...)
	k = append(k, '/')
	k = append(k, sc.Partition...)
	k = append(k, '/')
	return append(k, suffix...)
}

// arrivalBound returns the exclusive upper bound covering every key in
// the scope with arrival time <= at. The suffix uses the same
// sign-flipped encoding as event.Key.AppendBinary.
func arrivalBound(kind string, sc Scope, at int64) []byte {
	if at == math.MaxInt64 {
		return prefixUpperBound(scopeKey(kind, sc, nil))
	}
	var suffix [8]byte
	binary.BigEndian.PutUint64(suffix[:], uint64(at+1)^(1<<63))
	return scopeKey(kind, sc, suffix[:])
}

// prefixUpperBound returns the smallest key greater than every key
// starting with prefix.
func prefixUpperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] != 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

// ReplaceScope atomically swaps a scope's artifacts for a rebuild's
// output: existing rows are range-deleted and the new rows written in
// the same synced batch.
func (s *Store) ReplaceScope(sc Scope, entries []checkpoint.IndexEntry, cps []*checkpoint.Checkpoint) error {
	if err := sc.validate(); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()

	for _, kind := range []string{prefixCheckpoint, prefixIndex} {
		lo := scopeKey(kind, sc, nil)
		if err := b.DeleteRange(lo, prefixUpperBound(lo), nil); err != nil {
			return err
		}
	}
	for i := range entries {
		e := &entries[i]
		if e.Instrument != sc.Instrument || e.Partition != sc.Partition {
			return fmt.Errorf("store: index entry %s outside scope %s", e.Key, sc)
		}
		val, err := checkpoint.MarshalIndexEntry(e)
		if err != nil {
			return err
		}
		if err := b.Set(scopeKey(prefixIndex, sc, e.Key.AppendBinary(nil)), val, nil); err != nil {
			return err
		}
	}
	for _, cp := range cps {
		if cp.Instrument != sc.Instrument || cp.Partition != sc.Partition {
			return fmt.Errorf("store: checkpoint %s outside scope %s", cp.Marker, sc)
		}
		val, err := checkpoint.Marshal(cp)
		if err != nil {
			return err
		}
		if err := b.Set(scopeKey(prefixCheckpoint, sc, cp.Marker.AppendBinary(nil)), val, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// NearestCheckpoint returns the checkpoint with the greatest marker
// whose arrival time is <= at, if any.
func (s *Store) NearestCheckpoint(sc Scope, at int64) (*checkpoint.Checkpoint, bool, error) {
	val, ok, err := s.last(prefixCheckpoint, sc, at)
	if !ok || err != nil {
		return nil, false, err
	}
	cp, err := checkpoint.Unmarshal(val)
	if err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

// NearestAnchor returns the snapshot-index entry with the greatest
// group key whose arrival time is <= at, if any.
func (s *Store) NearestAnchor(sc Scope, at int64) (*checkpoint.IndexEntry, bool, error) {
	val, ok, err := s.last(prefixIndex, sc, at)
	if !ok || err != nil {
		return nil, false, err
	}
	e, err := checkpoint.UnmarshalIndexEntry(val)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *Store) last(kind string, sc Scope, at int64) ([]byte, bool, error) {
	if err := sc.validate(); err != nil {
		return nil, false, err
	}
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: scopeKey(kind, sc, nil),
		UpperBound: arrivalBound(kind, sc, at),
	})
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	if !it.Last() {
		return nil, false, it.Error()
	}
	val := append([]byte(nil), it.Value()...)
	return val, true, it.Error()
}

// Checkpoints returns a scope's checkpoints in marker order. Intended
// for rebuild verification and tests.
func (s *Store) Checkpoints(sc Scope) ([]*checkpoint.Checkpoint, error) {
	var out []*checkpoint.Checkpoint
	err := s.scan(prefixCheckpoint, sc, func(val []byte) error {
		cp, err := checkpoint.Unmarshal(val)
		if err != nil {
			return err
		}
		out = append(out, cp)
		return nil
	})
	return out, err
}

// Anchors returns a scope's snapshot-index entries in key order.
func (s *Store) Anchors(sc Scope) ([]checkpoint.IndexEntry, error) {
	var out []checkpoint.IndexEntry
	err := s.scan(prefixIndex, sc, func(val []byte) error {
		e, err := checkpoint.UnmarshalIndexEntry(val)
		if err != nil {
			return err
		}
		out = append(out, *e)
		return nil
	})
	return out, err
}

func (s *Store) scan(kind string, sc Scope, fn func(val []byte) error) error {
	if err := sc.validate(); err != nil {
		return err
	}
	lo := scopeKey(kind, sc, nil)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lo,
		UpperBound: prefixUpperBound(lo),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if err := fn(it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}
