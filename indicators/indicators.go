// Package indicators provides the technical indicators the zone strategy
// reads: ATR, EMA, anchored VWAP and a few rolling price statistics.
//
// All functions take candles oldest first and treat the last bar as the
// most recent value. Not enough data is reported as
// market.ErrDataUnavailable.
package indicators

import (
	"fmt"

	"github.com/rustyeddy/zonetrader/market"
)

func notEnough(name string, need, got int) error {
	return fmt.Errorf("%s: not enough candles: need %d, got %d: %w", name, need, got, market.ErrDataUnavailable)
}
