package series

import "testing"

func collect(f *ChangeFilter[string], key string, values []float64) []Point {
	var out []Point
	for i, v := range values {
		f.Append(key, at(i), v, func(p Point) { out = append(out, p) })
	}
	return out
}

func TestChangeFilterFirstPointForwarded(t *testing.T) {
	f := NewChangeFilter[string]()
	out := collect(f, "a", []float64{5})
	if len(out) != 1 || out[0].Value != 5 {
		t.Fatalf("out = %+v", out)
	}
}

func TestChangeFilterRunCollapse(t *testing.T) {
	f := NewChangeFilter[string]()
	// 1, затем 10 раз 2, затем 3.
	values := []float64{1}
	for i := 0; i < 10; i++ {
		values = append(values, 2)
	}
	values = append(values, 3)

	out := collect(f, "a", values)
	twos := 0
	for _, p := range out {
		if p.Value == 2 {
			twos++
		}
	}
	if twos > 2 {
		t.Fatalf("run of 2 produced %d entries", twos)
	}
	if len(out) != 4 {
		t.Fatalf("expected 1, 2(first), 2(last), 3; got %+v", out)
	}
	if !out[1].Timestamp.Equal(at(1)) || !out[2].Timestamp.Equal(at(10)) {
		t.Fatalf("run bounds = %v .. %v", out[1].Timestamp, out[2].Timestamp)
	}
	if out[3].Value != 3 || !out[3].Timestamp.Equal(at(11)) {
		t.Fatalf("last = %+v", out[3])
	}
}

func TestChangeFilterNoDuplicateOnAlternation(t *testing.T) {
	f := NewChangeFilter[string]()
	out := collect(f, "a", []float64{1, 2, 1, 2})
	if len(out) != 4 {
		t.Fatalf("alternating values must be forwarded once each, got %+v", out)
	}
}

func TestChangeFilterKeysIndependent(t *testing.T) {
	f := NewChangeFilter[string]()
	var a, b int
	f.Append("a", at(0), 1, func(Point) { a++ })
	f.Append("b", at(0), 1, func(Point) { b++ })
	f.Append("a", at(1), 1, func(Point) { a++ })
	if a != 1 || b != 1 {
		t.Fatalf("a=%d b=%d", a, b)
	}
	last, ok := f.Last("a")
	if !ok || !last.Timestamp.Equal(at(1)) {
		t.Fatalf("last = %+v", last)
	}
	f.Forget("a")
	f.Append("a", at(2), 1, func(Point) { a++ })
	if a != 2 {
		t.Fatalf("after forget the point must be forwarded, a=%d", a)
	}
}
