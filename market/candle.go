package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data.
// Time is the bar open time; Volume is tick volume.
type Candle struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
	time.Time
	Volume float64
}

// Contains reports whether inner's range lies fully inside c's range,
// i.e. inner is an inside bar of c.
func (c Candle) Contains(inner Candle) bool {
	return inner.High <= c.High && inner.Low >= c.Low
}
