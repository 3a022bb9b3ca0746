// Package safemath holds overflow-checked integer arithmetic.
package safemath

import "math/bits"

// Add64 returns a+b and whether the sum fits in a uint64.
func Add64(a, b uint64) (uint64, bool) {
	v, carry := bits.Add64(a, b, 0)
	return v, carry == 0
}

// SaturatingAdd64 returns a+b clamped to the maximum uint64.
func SaturatingAdd64(a, b uint64) uint64 {
	if v, ok := Add64(a, b); ok {
		return v
	}
	return ^uint64(0)
}
