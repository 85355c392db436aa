package policy

// Column is per-entry policy state indexed by Ref. It grows on demand, so
// a policy pays only for the slots of entries it has seen.
// The zero value is ready to use.
type Column[T any] struct {
	s []T
}

// At returns a pointer to the slot for r, growing the column if needed.
// The pointer is invalidated by the next growth.
func (c *Column[T]) At(r Ref) *T {
	if int(r) >= len(c.s) {
		c.grow(int(r) + 1)
	}
	return &c.s[r]
}

// Get returns the slot value for r (zero if never set).
func (c *Column[T]) Get(r Ref) T {
	if int(r) >= len(c.s) {
		var zero T
		return zero
	}
	return c.s[r]
}

// Set stores v in the slot for r.
func (c *Column[T]) Set(r Ref, v T) { *c.At(r) = v }

// Reset zeroes the slot for r.
func (c *Column[T]) Reset(r Ref) {
	if int(r) < len(c.s) {
		var zero T
		c.s[r] = zero
	}
}

func (c *Column[T]) grow(n int) {
	size := 2 * len(c.s)
	if size < 16 {
		size = 16
	}
	for size < n {
		size *= 2
	}
	s := make([]T, size)
	copy(s, c.s)
	c.s = s
}
