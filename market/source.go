package market

import (
	"context"
	"errors"
)

// ErrDataUnavailable marks missing or insufficient price data. It aborts
// only the current pass; callers retry next cycle.
var ErrDataUnavailable = errors.New("data unavailable")

// Source supplies historical bars. Bars come back oldest first and shift
// counts back from the most recently closed bar: shift 0 ends the slice at
// the last closed bar, shift 1 at the one before it. Implementations return
// an error wrapping ErrDataUnavailable when fewer than count bars exist.
type Source interface {
	Bars(ctx context.Context, symbol string, tf Timeframe, shift, count int) ([]Candle, error)
}

// DailyBars returns the last count closed daily bars for symbol.
func DailyBars(ctx context.Context, src Source, symbol string, count int) ([]Candle, error) {
	return src.Bars(ctx, symbol, D1, 0, count)
}
