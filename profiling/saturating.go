package profiling

import (
	stdmath "math"

	safemath "github.com/MetalBlockchain/metalgo/utils/math"
)

// satSub returns a-b, or 0 if b > a.
func satSub(a, b uint64) uint64 {
	diff, err := safemath.Sub(a, b)
	if err != nil {
		return 0
	}
	return diff
}

// satAdd returns a+b, or MaxUint64 on overflow.
func satAdd(a, b uint64) uint64 {
	sum, err := safemath.Add(a, b)
	if err != nil {
		return stdmath.MaxUint64
	}
	return sum
}
