// Package broker defines the order-execution collaborator the strategy
// trades through.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/zonetrader/market"
)

// ErrExecution marks a rejected order placement, modification or close.
// Callers log it and retry next cycle; it never aborts a run.
var ErrExecution = errors.New("execution failure")

type OrderResult struct {
	Ticket  string
	Success bool
	Price   float64
}

// PositionSnapshot is the broker's view of one open position.
type PositionSnapshot struct {
	Ticket     string
	Symbol     string
	Direction  market.Direction
	Lots       float64
	EntryPrice float64
	StopLoss   float64
	Profit     float64
	OpenTime   time.Time
	Label      string
}

// OrderSnapshot is a resting limit order.
type OrderSnapshot struct {
	Ticket    string
	Symbol    string
	Direction market.Direction
	Price     float64
	Lots      float64
	StopLoss  float64
	Label     string
	Placed    time.Time
}

// Account is what risk tracking needs from the broker.
type Account interface {
	AccountEquity(ctx context.Context) (float64, error)
	AccountBalance(ctx context.Context) (float64, error)
	OpenPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
}

// Broker executes orders for one account. A filled limit order shows up
// in OpenPositions under the ticket PlaceLimitOrder returned.
type Broker interface {
	Account

	Tick(ctx context.Context, symbol string) (market.Tick, error)
	PendingOrders(ctx context.Context, symbol string) ([]OrderSnapshot, error)

	PlaceMarketOrder(ctx context.Context, symbol string, d market.Direction, lots, stopLoss float64, label string) (OrderResult, error)
	PlaceLimitOrder(ctx context.Context, symbol string, d market.Direction, price, lots, stopLoss float64, label string) (OrderResult, error)
	ModifyStop(ctx context.Context, ticket string, stop float64) error
	ClosePosition(ctx context.Context, ticket string) error
	ClosePartial(ctx context.Context, ticket string, lots float64) error
	CancelOrder(ctx context.Context, ticket string) error
}

// Find returns the snapshot with ticket, if present.
func Find(ps []PositionSnapshot, ticket string) (PositionSnapshot, bool) {
	for _, p := range ps {
		if p.Ticket == ticket {
			return p, true
		}
	}
	return PositionSnapshot{}, false
}
