// Package zones finds support/resistance zones in daily price action and
// keeps the current zone set in an id-indexed Book.
package zones

import (
	"time"

	"github.com/rustyeddy/zonetrader/market"
)

// MaxZones is the number of zones kept after scoring.
const MaxZones = 8

// MidTolerance is the price tolerance two zone midpoints compare equal at.
const MidTolerance = 1e-7

// Zone is a price band around a cluster of pivots. Zones are values: the
// Book hands out copies and all mutation goes through Book methods.
type Zone struct {
	ID       string  `json:"id" yaml:"id"`
	Mid      float64 `json:"mid" yaml:"mid"`
	Width    float64 `json:"width" yaml:"width"`
	Strength int     `json:"strength" yaml:"strength"`

	PendingFade    bool             `json:"pending_fade" yaml:"pending_fade"`
	FadeDirection  market.Direction `json:"fade_direction" yaml:"fade_direction"`
	BreakDirection market.Direction `json:"break_direction" yaml:"break_direction"`
	BreakTime      time.Time        `json:"break_time" yaml:"break_time"`
	LastTradeTime  time.Time        `json:"last_trade_time" yaml:"last_trade_time"`
}

func (z Zone) Upper() float64 { return z.Mid + z.Width/2 }
func (z Zone) Lower() float64 { return z.Mid - z.Width/2 }

// Contains reports whether price lies inside the band, edges included.
func (z Zone) Contains(price float64) bool {
	return price >= z.Lower() && price <= z.Upper()
}

// Edge returns the boundary a trade in d enters at after a break: the
// upper bound for longs, the lower bound for shorts.
func (z Zone) Edge(d market.Direction) float64 {
	if d == market.Short {
		return z.Lower()
	}
	return z.Upper()
}
