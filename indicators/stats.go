package indicators

import (
	"math"
	"sort"

	"github.com/rustyeddy/zonetrader/market"
)

// HighestClose returns the highest close in candles, or 0 for none.
func HighestClose(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	hi := math.Inf(-1)
	for _, c := range candles {
		hi = math.Max(hi, c.Close)
	}
	return hi
}

// LowestClose returns the lowest close in candles, or 0 for none.
func LowestClose(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	lo := math.Inf(1)
	for _, c := range candles {
		lo = math.Min(lo, c.Close)
	}
	return lo
}

// Returns computes bar-over-bar percentage returns of the closes.
// len(result) == len(candles)-1.
func Returns(candles []market.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (candles[i].Close-prev)/prev*100)
	}
	return out
}

// Median of xs; 0 for an empty slice. xs is not modified.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := make([]float64, n)
	copy(s, xs)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
