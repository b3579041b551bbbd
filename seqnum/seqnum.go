// Package seqnum implements wrapping arithmetic over the 32-bit TCP
// sequence-number space, per RFC 793 and the half-space comparison rule
// of RFC 1323 section 4.
package seqnum

// Value is a sequence or acknowledgment number in the 32-bit circular
// TCP sequence space.
type Value uint32

// Size is a span of the sequence space, e.g. a segment length or a
// window size.
type Size uint32

// Add returns v advanced by delta, wrapping at 2^32.
func (v Value) Add(delta Size) Value {
	return v + Value(delta)
}

// Size returns the span from v up to (not including) w, wrapping at 2^32.
// It is the distance walked forward from v to reach w.
func (v Value) Size(w Value) Size {
	return Size(w - v)
}

// LessThan implements wrapping_lt: it is true iff v precedes w in the
// circular sequence space, using the RFC 1323 half-space rule that a
// value is "less" when it lies in the opposite half-circle. LessThan is
// irreflexive: v.LessThan(v) is always false.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// InWindow reports whether v lies in the half-open window
// [first, first+size), wrapping at 2^32. A zero-sized window never
// contains anything.
func (v Value) InWindow(first Value, size Size) bool {
	return first.Size(v) < size
}

// InRange reports whether v lies in the half-open range [lo, hi).
func (v Value) InRange(lo, hi Value) bool {
	return v.InWindow(lo, lo.Size(hi))
}

// Between implements is_between_wrapped: true iff x lies strictly
// between lo and hi on the circle, i.e. lo.LessThan(x) && x.LessThan(hi).
// Both inequalities are strict, so Between(x, x, y) and
// Between(x, y, y) are always false.
func Between(lo, x, hi Value) bool {
	return lo.LessThan(x) && x.LessThan(hi)
}
