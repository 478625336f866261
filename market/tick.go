package market

import "time"

type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Exit returns the price a position in direction d is marked or closed
// at: longs close on the bid, shorts on the ask.
func (t Tick) Exit(d Direction) float64 {
	if d == Short {
		return t.Ask
	}
	return t.Bid
}

// Entry returns the price a new position in direction d fills at.
func (t Tick) Entry(d Direction) float64 {
	if d == Short {
		return t.Bid
	}
	return t.Ask
}
