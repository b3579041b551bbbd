package seqnum

import "testing"

func TestLessThanIrreflexive(t *testing.T) {
	vals := []Value{0, 1, 1000, 1 << 31, 1<<32 - 1}
	for _, v := range vals {
		if v.LessThan(v) {
			t.Errorf("LessThan(%d, %d) = true, want false", v, v)
		}
	}
}

func TestLessThanTotalOnHalfSpace(t *testing.T) {
	cases := []struct {
		a, b Value
	}{
		{0, 1},
		{1<<32 - 1, 0},
		{1000, 2000},
		{1 << 31, (1 << 31) + 100},
	}
	for _, c := range cases {
		lt := c.a.LessThan(c.b)
		gt := c.b.LessThan(c.a)
		eq := c.a == c.b
		n := 0
		for _, b := range []bool{lt, gt, eq} {
			if b {
				n++
			}
		}
		if n != 1 {
			t.Errorf("LessThan(%d,%d)=%v LessThan(%d,%d)=%v eq=%v: expected exactly one true", c.a, c.b, lt, c.b, c.a, gt, eq)
		}
	}
}

func TestBetweenStrict(t *testing.T) {
	if Between(100, 100, 200) {
		t.Error("Between(x, x, y) should be false")
	}
	if Between(100, 200, 200) {
		t.Error("Between(x, y, y) should be false")
	}
	if !Between(100, 150, 200) {
		t.Error("Between(100, 150, 200) should be true")
	}
}

func TestBetweenWraps(t *testing.T) {
	lo := Value(1<<32 - 10)
	hi := Value(10)
	if !Between(lo, 0, hi) {
		t.Error("Between should handle wraparound across zero")
	}
	if Between(lo, 20, hi) {
		t.Error("Between should reject values outside the wrapped window")
	}
}

func TestInWindow(t *testing.T) {
	first := Value(1000)
	size := Size(1024)
	if !first.InWindow(first, size) {
		t.Error("window should include its own first value")
	}
	if Value(1000 + 1024).InWindow(first, size) {
		t.Error("window should exclude first+size")
	}
	if !Value(1000 + 1023).InWindow(first, size) {
		t.Error("window should include last in-range value")
	}
	if Value(1000 - 1).InWindow(first, size) {
		t.Error("window should exclude the value before first")
	}
}

func TestAddAndSizeRoundtrip(t *testing.T) {
	v := Value(1<<32 - 5)
	got := v.Add(10)
	want := Value(5)
	if got != want {
		t.Errorf("Add wraparound: got %d want %d", got, want)
	}
	if v.Size(got) != 10 {
		t.Errorf("Size after Add: got %d want 10", v.Size(got))
	}
}
