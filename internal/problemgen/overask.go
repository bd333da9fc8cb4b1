package problemgen

import "math"

// OverAskPolicy decides how many rows a repair prompt asks for when
// missing rows are still needed. Asking for more than missing absorbs the
// rows that will fail validation again.
type OverAskPolicy struct {
	// SmallThreshold is the largest deficit that gets a fixed buffer.
	SmallThreshold int

	// SmallBuffer is added when missing <= SmallThreshold.
	SmallBuffer int

	// Ratio scales larger deficits; the product is rounded half up and
	// clamped to [MinBuffer, MaxBuffer].
	Ratio     float64
	MinBuffer int
	MaxBuffer int
}

// DefaultOverAsk returns missing+3 for small deficits and otherwise
// missing plus half of it (rounded), clamped to [2, 10].
func DefaultOverAsk() OverAskPolicy {
	return OverAskPolicy{
		SmallThreshold: 3,
		SmallBuffer:    3,
		Ratio:          0.5,
		MinBuffer:      2,
		MaxBuffer:      10,
	}
}

// Request returns the number of rows to ask for. The result is never less
// than missing and is strictly greater whenever missing > 0.
func (p OverAskPolicy) Request(missing int) int {
	if missing <= 0 {
		return 0
	}
	if missing <= p.SmallThreshold {
		return missing + max(p.SmallBuffer, 1)
	}
	buf := int(math.Floor(float64(missing)*p.Ratio + 0.5))
	buf = max(p.MinBuffer, min(p.MaxBuffer, buf))
	return missing + max(buf, 1)
}
