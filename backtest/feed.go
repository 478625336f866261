package backtest

import (
	"time"

	"github.com/rustyeddy/zonetrader/market"
)

// BarFeed yields closed H1 bars one at a time. Implementations are
// deterministic and return (ok=false, err=nil) once exhausted.
type BarFeed interface {
	Next() (c market.Candle, ok bool, err error)
	Close() error
}

// SliceFeed replays bars in order, optionally limited to [From, To) by
// bar open time.
type SliceFeed struct {
	bars []market.Candle
	from time.Time
	to   time.Time
	i    int
}

func NewSliceFeed(bars []market.Candle, from, to time.Time) *SliceFeed {
	return &SliceFeed{bars: bars, from: from, to: to}
}

func (f *SliceFeed) Next() (market.Candle, bool, error) {
	for f.i < len(f.bars) {
		c := f.bars[f.i]
		f.i++
		if !inRange(c.Time, f.from, f.to) {
			continue
		}
		return c, true, nil
	}
	return market.Candle{}, false, nil
}

func (f *SliceFeed) Close() error { return nil }

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
