package indicators

import (
	"fmt"

	"github.com/rustyeddy/zonetrader/market"
)

// EMA calculates the Exponential Moving Average of closes for the given
// period, seeded with the SMA of the first period closes.
func EMA(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(candles) < period {
		return 0, notEnough(fmt.Sprintf("EMA(%d)", period), period, len(candles))
	}

	multiplier := 2.0 / float64(period+1)

	// Start with SMA for first value
	sma := 0.0
	for i := 0; i < period; i++ {
		sma += candles[i].Close
	}
	ema := sma / float64(period)

	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*multiplier + ema
	}

	return ema, nil
}

// EMASlope returns EMA(period) at the last bar minus EMA(period) one bar
// earlier.
func EMASlope(candles []market.Candle, period int) (float64, error) {
	if len(candles) < period+1 {
		return 0, notEnough(fmt.Sprintf("EMASlope(%d)", period), period+1, len(candles))
	}
	prev, err := EMA(candles[:len(candles)-1], period)
	if err != nil {
		return 0, err
	}
	last, err := EMA(candles, period)
	if err != nil {
		return 0, err
	}
	return last - prev, nil
}
