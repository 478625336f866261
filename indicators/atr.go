package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/zonetrader/market"
)

// ATR calculates the Average True Range for the given period using Wilder
// smoothing. It needs period+1 candles because the true range uses the
// previous close.
func ATR(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return 0, notEnough(fmt.Sprintf("ATR(%d)", period), period+1, len(candles))
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trueRanges = append(trueRanges, TrueRange(candles[i], candles[i-1]))
	}

	// Calculate initial ATR as SMA of first 'period' true ranges
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trueRanges[i]
	}
	atr := sum / float64(period)

	// Smooth remaining values using Wilder's method
	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}

// TrueRange calculates the True Range for a candle given the previous candle.
func TrueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)

	return math.Max(highLow, math.Max(highClose, lowClose))
}
