package util

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// NextPow2 returns the smallest power of two >= x.
// Special cases:
//   - x == 0  -> 1
//   - if the exact next power would overflow 64 bits, the result is clamped to 1<<63
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// BucketIndex maps a 64-bit hash to one of n buckets.
// The table keeps n a power of two and takes the mask path; other sizes
// fall back to modulo.
func BucketIndex(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(n)) {
		// Fold the high bits in: custom hashers are not always well mixed
		// in the low bits.
		return int((hash ^ hash>>32) & uint64(n-1))
	}
	return int(hash % uint64(n))
}
