package indicators

import (
	"time"

	"github.com/rustyeddy/zonetrader/market"
)

// AnchoredVWAP is the volume-weighted average close of every candle that
// opened at or after anchor. ok is false when no candle qualifies or the
// anchored volume is zero.
func AnchoredVWAP(candles []market.Candle, anchor time.Time) (vwap float64, ok bool) {
	var pv, vol float64
	for _, c := range candles {
		if c.Time.Before(anchor) {
			continue
		}
		pv += c.Close * c.Volume
		vol += c.Volume
	}
	if vol <= 0 {
		return 0, false
	}
	return pv / vol, true
}
