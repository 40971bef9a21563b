package event

import (
	"bytes"
	"testing"
)

func key(arrival int64, seq uint64, hasSeq bool, srcID uint32, srcSeq uint64) Key {
	return Key{
		Instrument:     "BTC-USD",
		Channel:        "book",
		ArrivalTime:    arrival,
		ExchangeSeq:    seq,
		HasExchangeSeq: hasSeq,
		SourceID:       srcID,
		SourceSeq:      srcSeq,
	}
}

func TestKeyCompareFieldPrecedence(t *testing.T) {
	cases := []struct {
		name string
		a, b Key
	}{
		{"instrument", Key{Instrument: "A"}, Key{Instrument: "B"}},
		{"channel", Key{Instrument: "A", Channel: "book"}, Key{Instrument: "A", Channel: "trades"}},
		{"arrival", key(1, 0, false, 0, 0), key(2, 0, false, 0, 0)},
		{"absent seq before present", key(1, 0, false, 9, 9), key(1, 0, true, 0, 0)},
		{"exchange seq", key(1, 5, true, 9, 9), key(1, 6, true, 0, 0)},
		{"source id", key(1, 5, true, 1, 9), key(1, 5, true, 2, 0)},
		{"source seq", key(1, 5, true, 1, 1), key(1, 5, true, 1, 2)},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != -1 {
			t.Errorf("%s: Compare = %d, want -1", tc.name, got)
		}
		if got := tc.b.Compare(tc.a); got != 1 {
			t.Errorf("%s: reverse Compare = %d, want 1", tc.name, got)
		}
	}
}

func TestKeyCompareEqualOnlyForIdentical(t *testing.T) {
	a := key(1, 5, true, 1, 1)
	if a.Compare(a) != 0 {
		t.Error("identical keys must compare equal")
	}
	// Lineage alone must break the tie.
	b := a
	b.SourceSeq = 2
	if a.Compare(b) == 0 {
		t.Error("keys differing only in lineage must not compare equal")
	}
}

func TestKeyBinaryOrderMatchesCompare(t *testing.T) {
	keys := []Key{
		// Pre-epoch arrivals must sort below positive ones byte-wise.
		key(-5, 0, false, 0, 0),
		key(-1, 0, false, 0, 0),
		key(0, 0, false, 0, 0),
		key(1, 0, false, 0, 0),
		key(1, 0, false, 0, 1),
		key(1, 0, true, 0, 0),
		key(1, 7, true, 0, 0),
		key(1, 7, true, 1, 0),
		key(2, 0, false, 0, 0),
	}
	for i := 0; i < len(keys)-1; i++ {
		a, b := keys[i], keys[i+1]
		if a.Compare(b) != -1 {
			t.Fatalf("fixture not ascending at %d", i)
		}
		if bytes.Compare(a.AppendBinary(nil), b.AppendBinary(nil)) != -1 {
			t.Errorf("binary order disagrees with Compare at %d: %s vs %s", i, a, b)
		}
	}
}

func TestKeySuffixRoundTrip(t *testing.T) {
	for _, want := range []Key{
		key(1692000000_000123, 42, true, 7, 99),
		key(-1692000000_000123, 0, false, 7, 99),
	} {
		got, err := KeySuffixFromBinary("BTC-USD", "book", want.AppendBinary(nil))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != want {
			t.Errorf("round trip: got %+v, want %+v", got, want)
		}
	}
}

func TestEventCodecDeterministic(t *testing.T) {
	ev := &Event{
		Instrument:      "BTC-USD",
		Channel:         "book",
		ArrivalTime:     1692000000_000123,
		ExchangeSeq:     42,
		HasExchangeSeq:  true,
		Kind:            KindSnapshotLevel,
		Side:            Ask,
		Price:           10150,
		Size:            4,
		SnapshotID:      3,
		IsSnapshotGroup: true,
		SourceID:        7,
		SourceSeq:       99,
	}
	first, err := AppendMarshal(nil, ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, _ := AppendMarshal(nil, ev)
	if !bytes.Equal(first, second) {
		t.Error("encoding the same event twice must be byte-identical")
	}
	back, err := Unmarshal(first)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *back != *ev {
		t.Errorf("round trip: got %+v, want %+v", back, ev)
	}
}

func TestEventCodecRejectsTruncated(t *testing.T) {
	ev := &Event{Instrument: "BTC-USD", Channel: "book", Kind: KindTrade}
	b, _ := AppendMarshal(nil, ev)
	if _, err := Unmarshal(b[:len(b)-1]); err == nil {
		t.Error("truncated record must not decode")
	}
}
