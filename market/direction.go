package market

// Direction of a trade or signal. There is no "both" state.
type Direction int8

const (
	None  Direction = 0
	Long  Direction = +1
	Short Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "none"
	}
}

// Sign returns +1 for Long, -1 for Short and 0 for None.
func (d Direction) Sign() float64 {
	return float64(d)
}

func (d Direction) Opposite() Direction {
	return -d
}

// Better reports whether price a is more favourable than b for d:
// higher for Long, lower for Short.
func (d Direction) Better(a, b float64) bool {
	switch d {
	case Long:
		return a > b
	case Short:
		return a < b
	}
	return false
}
