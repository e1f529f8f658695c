package series

import (
	"errors"
	"math"
	"testing"
	"time"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(i int) time.Time { return base.Add(time.Duration(i) * time.Second) }

func TestBufferAppendGrowth(t *testing.T) {
	const initial = 4
	cases := []struct {
		n       int
		wantCap int
	}{
		{n: 0, wantCap: 4},
		{n: 2, wantCap: 4},
		{n: 3, wantCap: 4},
		{n: 4, wantCap: 8},
		{n: 7, wantCap: 8},
		{n: 8, wantCap: 16},
		{n: 100, wantCap: 128},
	}
	for _, tc := range cases {
		b := NewBuffer(initial)
		for i := 0; i < tc.n; i++ {
			b.Append(at(i), float64(i))
		}
		if b.Len() != tc.n {
			t.Fatalf("n=%d: len=%d", tc.n, b.Len())
		}
		if b.Cap() != tc.wantCap {
			t.Fatalf("n=%d: cap=%d want %d", tc.n, b.Cap(), tc.wantCap)
		}
	}
}

func TestBufferGrowthCopiesLinear(t *testing.T) {
	b := NewBuffer(1)
	const n = 10000
	for i := 0; i < n; i++ {
		b.Append(at(i), float64(i))
	}
	if b.moved > 2*n {
		t.Fatalf("moved %d elements for %d appends", b.moved, n)
	}
}

func TestBufferGrowthPreservesContent(t *testing.T) {
	b := NewBuffer(2)
	for i := 0; i < 37; i++ {
		b.Append(at(i), float64(i)*0.5)
	}
	ts, vs := b.Read()
	if len(ts) != 37 || len(vs) != 37 {
		t.Fatalf("unexpected view length %d/%d", len(ts), len(vs))
	}
	for i := range ts {
		if !ts[i].Equal(at(i)) || vs[i] != float64(i)*0.5 {
			t.Fatalf("point %d mismatch: %v %v", i, ts[i], vs[i])
		}
	}
}

func TestBufferExtend(t *testing.T) {
	b := NewBuffer(4)
	b.Append(at(0), 1)
	b.Append(at(1), 2)

	ts := make([]time.Time, 10)
	vs := make([]float64, 10)
	for i := range ts {
		ts[i] = at(i + 2)
		vs[i] = float64(i + 3)
	}
	if err := b.Extend(ts, vs); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if b.Len() != 12 {
		t.Fatalf("len=%d", b.Len())
	}
	if b.Cap() <= b.Len() {
		t.Fatalf("cap %d must exceed len %d", b.Cap(), b.Len())
	}
	_, got := b.Read()
	for i, v := range got {
		if v != float64(i+1) {
			t.Fatalf("value %d = %v", i, v)
		}
	}
}

func TestBufferExtendLengthMismatch(t *testing.T) {
	b := NewBuffer(4)
	err := b.Extend([]time.Time{at(0)}, []float64{1, 2})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if b.Len() != 0 || b.Ready() {
		t.Fatalf("failed extend must not touch buffer")
	}
}

func TestBufferExtendEmptyIsNotWrite(t *testing.T) {
	b := NewBuffer(4)
	if err := b.Extend(nil, nil); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if b.Ready() || b.Cap() != 4 {
		t.Fatalf("ready=%v cap=%d", b.Ready(), b.Cap())
	}
}

func TestBufferOverwriteDropsNonFinite(t *testing.T) {
	b := NewBuffer(4)
	b.Append(at(100), 42)
	ts := []time.Time{at(1), at(2), at(3), at(4), at(5)}
	vs := []float64{1.0, math.NaN(), 3.0, math.Inf(1), math.Inf(-1)}
	if err := b.Overwrite(ts, vs); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	gotTs, gotVs := b.Read()
	if len(gotVs) != 2 || gotVs[0] != 1.0 || gotVs[1] != 3.0 {
		t.Fatalf("values = %v", gotVs)
	}
	if !gotTs[0].Equal(at(1)) || !gotTs[1].Equal(at(3)) {
		t.Fatalf("timestamps = %v", gotTs)
	}
	if b.Len() != 2 || b.Cap() != 2 {
		t.Fatalf("len=%d cap=%d", b.Len(), b.Cap())
	}
}

func TestBufferAppendAfterEmptyOverwrite(t *testing.T) {
	b := NewBuffer(4)
	if err := b.Overwrite(nil, nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if !b.Ready() || b.Cap() != 0 {
		t.Fatalf("ready=%v cap=%d", b.Ready(), b.Cap())
	}
	b.Append(at(0), 1)
	if b.Len() != 1 || b.Cap() < 2 {
		t.Fatalf("len=%d cap=%d", b.Len(), b.Cap())
	}
}

func TestBufferViewStableAfterWrites(t *testing.T) {
	b := NewBuffer(2)
	b.Append(at(0), 1)
	_, view := b.Read()
	for i := 1; i < 20; i++ {
		b.Append(at(i), float64(i+1))
	}
	if len(view) != 1 || view[0] != 1 {
		t.Fatalf("old view changed: %v", view)
	}
	if err := b.Overwrite([]time.Time{at(0)}, []float64{99}); err != nil {
		t.Fatal(err)
	}
	if view[0] != 1 {
		t.Fatalf("old view changed after overwrite: %v", view)
	}
}

func TestBufferLast(t *testing.T) {
	b := NewBuffer(0)
	if b.Cap() != DefaultCapacity {
		t.Fatalf("cap=%d", b.Cap())
	}
	if _, ok := b.Last(); ok {
		t.Fatalf("empty buffer has no last point")
	}
	b.Append(at(3), 7)
	p, ok := b.Last()
	if !ok || p.Value != 7 || !p.Timestamp.Equal(at(3)) {
		t.Fatalf("last = %+v %v", p, ok)
	}
}
