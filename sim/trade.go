package sim

import (
	"time"

	"github.com/rustyeddy/zonetrader/market"
)

// Trade is an open or closed simulated position.
type Trade struct {
	ID         string
	Instrument string
	Direction  market.Direction
	Lots       float64
	EntryPrice float64
	OpenTime   time.Time
	Label      string

	// StopLoss of zero means no stop.
	StopLoss float64

	// Realized
	ClosePrice float64
	CloseTime  time.Time
	RealizedPL float64 // account currency, including partial closes
	Partials   int
	Open       bool
}

// Order is a resting limit order.
type Order struct {
	ID         string
	Instrument string
	Direction  market.Direction
	Price      float64
	Lots       float64
	StopLoss   float64
	Label      string
	Placed     time.Time
}

func (t *Trade) hitStop(bid, ask float64) bool {
	if t.StopLoss == 0 {
		return false
	}
	if t.Direction == market.Long {
		return bid <= t.StopLoss
	}
	return ask >= t.StopLoss
}

// UnrealizedPL is the profit of lots at price mark, in account currency
// given the value of a one-unit move on one lot.
func UnrealizedPL(t Trade, lots, mark, valuePerLot float64) float64 {
	return t.Direction.Sign() * lots * (mark - t.EntryPrice) * valuePerLot
}
