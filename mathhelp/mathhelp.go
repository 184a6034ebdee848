package mathhelp

import (
	"math"

	"golang.org/x/exp/constraints"
)

// AlmostInt reports whether f is a whole number within eps.
// Guards ratio checks against floating point representation error.
func AlmostInt(f, eps float64) bool {
	return math.Abs(f-math.Round(f)) <= eps
}

func AlmostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func BetweenInc[T constraints.Ordered](f, p, q T) bool {
	if p <= q {
		return p <= f && f <= q
	}
	return q <= f && f <= p
}

// FloorDiv maps a coordinate to the index of the size-wide interval,
// anchored at origin, that contains it. Lower edge inclusive.
func FloorDiv(v, origin, size float64) int64 {
	return int64(math.Floor((v - origin) / size))
}
