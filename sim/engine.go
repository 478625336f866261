// Package sim is an in-memory broker. It fills market and limit orders,
// enforces stops against ticks or whole bars and journals every close.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/broker"
	"github.com/rustyeddy/zonetrader/journal"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/pkg/id"
)

const lotEpsilon = 1e-9

var (
	ErrTradeNotFound      = errors.New("trade not found")
	ErrTradeAlreadyClosed = errors.New("trade already closed")
	ErrOrderNotFound      = errors.New("order not found")
)

type Account struct {
	ID       string
	Currency string
	Balance  float64
	Equity   float64
}

// TradeClosedListener is notified when the engine closes a trade on its
// own (stop hit). It is called after the engine lock is released.
type TradeClosedListener interface {
	OnTradeClosed(tradeID string, reason string)
}

type Engine struct {
	mu       sync.Mutex
	acct     Account
	prices   map[string]market.Tick
	trades   map[string]*Trade
	orders   map[string]*Order
	journal  journal.Journal
	listener TradeClosedListener
	log      *logrus.Entry
}

var _ broker.Broker = (*Engine)(nil)

func NewEngine(acct Account, j journal.Journal, log *logger.Logger) *Engine {
	if j == nil {
		j = journal.Nop{}
	}
	if log == nil {
		log = logger.Discard()
	}
	if acct.Currency == "" {
		acct.Currency = "USD"
	}
	if acct.Equity == 0 {
		acct.Equity = acct.Balance
	}
	return &Engine{
		acct:    acct,
		prices:  make(map[string]market.Tick),
		trades:  make(map[string]*Trade),
		orders:  make(map[string]*Order),
		journal: j,
		log:     log.Component("sim", ""),
	}
}

func (e *Engine) SetTradeClosedListener(l TradeClosedListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// Account returns a copy of the account state.
func (e *Engine) Account() Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct
}

// Trade returns a copy of the trade with id, open or closed.
func (e *Engine) Trade(tradeID string) (Trade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades[tradeID]
	if !ok {
		return Trade{}, false
	}
	return *t, true
}

func (e *Engine) AccountEquity(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.Equity, nil
}

func (e *Engine) AccountBalance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.Balance, nil
}

func (e *Engine) Tick(ctx context.Context, symbol string) (market.Tick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	if !ok {
		return market.Tick{}, fmt.Errorf("tick %s: %w", symbol, market.ErrDataUnavailable)
	}
	return p, nil
}

// OpenPositions lists open trades for symbol, oldest first.
func (e *Engine) OpenPositions(ctx context.Context, symbol string) ([]broker.PositionSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []broker.PositionSnapshot
	for _, t := range e.openTradesLocked(symbol) {
		out = append(out, broker.PositionSnapshot{
			Ticket:     t.ID,
			Symbol:     t.Instrument,
			Direction:  t.Direction,
			Lots:       t.Lots,
			EntryPrice: t.EntryPrice,
			StopLoss:   t.StopLoss,
			Profit:     e.profitLocked(t),
			OpenTime:   t.OpenTime,
			Label:      t.Label,
		})
	}
	return out, nil
}

func (e *Engine) PendingOrders(ctx context.Context, symbol string) ([]broker.OrderSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []broker.OrderSnapshot
	for _, o := range e.ordersLocked(symbol) {
		out = append(out, broker.OrderSnapshot{
			Ticket:    o.ID,
			Symbol:    o.Instrument,
			Direction: o.Direction,
			Price:     o.Price,
			Lots:      o.Lots,
			StopLoss:  o.StopLoss,
			Label:     o.Label,
			Placed:    o.Placed,
		})
	}
	return out, nil
}

func (e *Engine) PlaceMarketOrder(ctx context.Context, symbol string, d market.Direction, lots, stop float64, label string) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, p, err := e.orderPrecheck(symbol, d, lots)
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("market order: %w", err)
	}
	fill := p.Entry(d)
	if err := checkStop(meta, d, p.Exit(d), stop); err != nil {
		return broker.OrderResult{}, fmt.Errorf("market order: %w", err)
	}

	t := &Trade{
		ID:         id.NewAt(p.Time),
		Instrument: symbol,
		Direction:  d,
		Lots:       lots,
		EntryPrice: fill,
		OpenTime:   p.Time,
		Label:      label,
		StopLoss:   stop,
		Open:       true,
	}
	e.trades[t.ID] = t

	e.log.WithFields(logrus.Fields{
		"ticket":    t.ID,
		"direction": d.String(),
		"lots":      lots,
		"price":     fill,
		"stop":      stop,
	}).Debug("market order filled")

	return broker.OrderResult{Ticket: t.ID, Success: true, Price: fill}, nil
}

// PlaceLimitOrder rests an order until price trades at the limit or
// better. A marketable limit fills on the next price update.
func (e *Engine) PlaceLimitOrder(ctx context.Context, symbol string, d market.Direction, price, lots, stop float64, label string) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, p, err := e.orderPrecheck(symbol, d, lots)
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("limit order: %w", err)
	}
	if price <= 0 {
		return broker.OrderResult{}, fmt.Errorf("limit order: %w: price %v", broker.ErrExecution, price)
	}
	if err := checkStop(meta, d, price, stop); err != nil {
		return broker.OrderResult{}, fmt.Errorf("limit order: %w", err)
	}

	o := &Order{
		ID:         id.NewAt(p.Time),
		Instrument: symbol,
		Direction:  d,
		Price:      price,
		Lots:       lots,
		StopLoss:   stop,
		Label:      label,
		Placed:     p.Time,
	}
	e.orders[o.ID] = o

	return broker.OrderResult{Ticket: o.ID, Success: true, Price: price}, nil
}

func (e *Engine) CancelOrder(ctx context.Context, ticket string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.orders[ticket]; !ok {
		return fmt.Errorf("cancel %q: %w: %w", ticket, broker.ErrExecution, ErrOrderNotFound)
	}
	delete(e.orders, ticket)
	return nil
}

// ModifyStop moves a trade's stop. The new stop must sit at least the
// instrument's stops level away from the current exit price.
func (e *Engine) ModifyStop(ctx context.Context, ticket string, stop float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.openTradeLocked(ticket)
	if err != nil {
		return fmt.Errorf("modify stop: %w", err)
	}
	meta, err := market.LookupInstrument(t.Instrument)
	if err != nil {
		return fmt.Errorf("modify stop: %w: %w", broker.ErrExecution, err)
	}
	p := e.prices[t.Instrument]
	if err := checkStop(meta, t.Direction, p.Exit(t.Direction), stop); err != nil {
		return fmt.Errorf("modify stop %s: %w", ticket, err)
	}
	t.StopLoss = stop
	return nil
}

// ClosePosition closes a trade at the current exit price.
func (e *Engine) ClosePosition(ctx context.Context, ticket string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.openTradeLocked(ticket)
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	p, ok := e.prices[t.Instrument]
	if !ok {
		return fmt.Errorf("close %s: %w: no price", ticket, broker.ErrExecution)
	}
	if err := e.closeLocked(t, t.Lots, p.Exit(t.Direction), p.Time, "Close"); err != nil {
		return err
	}
	e.revalueLocked()
	return e.snapshotLocked(p.Time)
}

// ClosePartial closes lots of a trade. Both the closed and the remaining
// volume must be at least the instrument's minimum lot.
func (e *Engine) ClosePartial(ctx context.Context, ticket string, lots float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.openTradeLocked(ticket)
	if err != nil {
		return fmt.Errorf("close partial: %w", err)
	}
	meta, err := market.LookupInstrument(t.Instrument)
	if err != nil {
		return fmt.Errorf("close partial: %w: %w", broker.ErrExecution, err)
	}
	if lots < meta.MinLot-lotEpsilon || t.Lots-lots < meta.MinLot-lotEpsilon {
		return fmt.Errorf("close partial %s: %w: %.2f of %.2f lots", ticket, broker.ErrExecution, lots, t.Lots)
	}
	p, ok := e.prices[t.Instrument]
	if !ok {
		return fmt.Errorf("close partial %s: %w: no price", ticket, broker.ErrExecution)
	}
	if err := e.closeLocked(t, lots, p.Exit(t.Direction), p.Time, "Partial"); err != nil {
		return err
	}
	e.revalueLocked()
	return e.snapshotLocked(p.Time)
}

// UpdatePrice applies a tick: stops are checked at the tick's exit side
// and resting orders fill at the tick's entry side.
func (e *Engine) UpdatePrice(p market.Tick) error {
	e.mu.Lock()

	e.prices[p.Symbol] = p

	var closed []string
	for _, t := range e.openTradesLocked(p.Symbol) {
		if !t.hitStop(p.Bid, p.Ask) {
			continue
		}
		if err := e.closeLocked(t, t.Lots, p.Exit(t.Direction), p.Time, "StopLoss"); err != nil {
			e.mu.Unlock()
			return err
		}
		closed = append(closed, t.ID)
	}

	for _, o := range e.ordersLocked(p.Symbol) {
		entry := p.Entry(o.Direction)
		if (o.Direction == market.Long && entry <= o.Price) || (o.Direction == market.Short && entry >= o.Price) {
			e.fillLocked(o, entry, p.Time)
		}
	}

	e.revalueLocked()
	err := e.snapshotLocked(p.Time)
	listener := e.listener
	e.mu.Unlock()

	e.notify(listener, closed)
	return err
}

// UpdateBar replays one closed bar. Stops are checked against the bar's
// range before resting orders fill, gaps fill at the open, and the bar's
// close becomes the current tick at closeTime.
func (e *Engine) UpdateBar(symbol string, c market.Candle, spread float64, closeTime time.Time) error {
	e.mu.Lock()

	var closed []string
	for _, t := range e.openTradesLocked(symbol) {
		if t.StopLoss == 0 {
			continue
		}
		var fill float64
		switch t.Direction {
		case market.Long:
			if c.Low > t.StopLoss {
				continue
			}
			fill = math.Min(t.StopLoss, c.Open)
		case market.Short:
			if c.High+spread < t.StopLoss {
				continue
			}
			fill = math.Max(t.StopLoss, c.Open+spread)
		}
		if err := e.closeLocked(t, t.Lots, fill, closeTime, "StopLoss"); err != nil {
			e.mu.Unlock()
			return err
		}
		closed = append(closed, t.ID)
	}

	for _, o := range e.ordersLocked(symbol) {
		switch o.Direction {
		case market.Long:
			if c.Low+spread <= o.Price {
				e.fillLocked(o, math.Min(o.Price, c.Open+spread), closeTime)
			}
		case market.Short:
			if c.High >= o.Price {
				e.fillLocked(o, math.Max(o.Price, c.Open), closeTime)
			}
		}
	}

	e.prices[symbol] = market.Tick{Symbol: symbol, Time: closeTime, Bid: c.Close, Ask: c.Close + spread}

	e.revalueLocked()
	err := e.snapshotLocked(closeTime)
	listener := e.listener
	e.mu.Unlock()

	e.notify(listener, closed)
	return err
}

// CloseAll closes every open trade and cancels every resting order.
func (e *Engine) CloseAll(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "ManualClose"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.orders = make(map[string]*Order)

	var last time.Time
	for _, t := range e.openTradesLocked("") {
		p, ok := e.prices[t.Instrument]
		if !ok {
			return fmt.Errorf("close all: no price for %q: %w", t.Instrument, broker.ErrExecution)
		}
		if err := e.closeLocked(t, t.Lots, p.Exit(t.Direction), p.Time, reason); err != nil {
			return err
		}
		if p.Time.After(last) {
			last = p.Time
		}
	}
	if last.IsZero() {
		return nil
	}
	e.revalueLocked()
	return e.snapshotLocked(last)
}

func (e *Engine) notify(l TradeClosedListener, ids []string) {
	if l == nil {
		return
	}
	for _, tradeID := range ids {
		l.OnTradeClosed(tradeID, "StopLoss")
	}
}

func (e *Engine) orderPrecheck(symbol string, d market.Direction, lots float64) (market.InstrumentMeta, market.Tick, error) {
	meta, err := market.LookupInstrument(symbol)
	if err != nil {
		return meta, market.Tick{}, fmt.Errorf("%w: %w", broker.ErrExecution, err)
	}
	if d != market.Long && d != market.Short {
		return meta, market.Tick{}, fmt.Errorf("%w: no direction", broker.ErrExecution)
	}
	if lots < meta.MinLot-lotEpsilon || lots > meta.MaxLot+lotEpsilon {
		return meta, market.Tick{}, fmt.Errorf("%w: %.2f lots outside [%.2f, %.2f]", broker.ErrExecution, lots, meta.MinLot, meta.MaxLot)
	}
	p, ok := e.prices[symbol]
	if !ok {
		return meta, market.Tick{}, fmt.Errorf("%w: no price for %s", broker.ErrExecution, symbol)
	}
	return meta, p, nil
}

// checkStop rejects a stop on the wrong side of ref or inside the stops
// level. Zero means no stop.
func checkStop(meta market.InstrumentMeta, d market.Direction, ref, stop float64) error {
	if stop == 0 {
		return nil
	}
	minDist := meta.MinStopDistance()
	if d == market.Long && stop > ref-minDist {
		return fmt.Errorf("%w: long stop %.5f within %.5f of %.5f", broker.ErrExecution, stop, minDist, ref)
	}
	if d == market.Short && stop < ref+minDist {
		return fmt.Errorf("%w: short stop %.5f within %.5f of %.5f", broker.ErrExecution, stop, minDist, ref)
	}
	return nil
}

func (e *Engine) openTradeLocked(ticket string) (*Trade, error) {
	t, ok := e.trades[ticket]
	if !ok {
		return nil, fmt.Errorf("%q: %w: %w", ticket, broker.ErrExecution, ErrTradeNotFound)
	}
	if !t.Open {
		return nil, fmt.Errorf("%q: %w: %w", ticket, broker.ErrExecution, ErrTradeAlreadyClosed)
	}
	return t, nil
}

// openTradesLocked returns open trades for symbol (all when empty) in
// ticket order, which is open-time order.
func (e *Engine) openTradesLocked(symbol string) []*Trade {
	var out []*Trade
	for _, t := range e.trades {
		if t.Open && (symbol == "" || t.Instrument == symbol) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) ordersLocked(symbol string) []*Order {
	var out []*Order
	for _, o := range e.orders {
		if symbol == "" || o.Instrument == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) fillLocked(o *Order, price float64, at time.Time) {
	delete(e.orders, o.ID)
	e.trades[o.ID] = &Trade{
		ID:         o.ID,
		Instrument: o.Instrument,
		Direction:  o.Direction,
		Lots:       o.Lots,
		EntryPrice: price,
		OpenTime:   at,
		Label:      o.Label,
		StopLoss:   o.StopLoss,
		Open:       true,
	}
	e.log.WithFields(logrus.Fields{
		"ticket":    o.ID,
		"direction": o.Direction.String(),
		"price":     price,
	}).Debug("limit order filled")
}

func (e *Engine) valuePerLotLocked(symbol string, price float64) float64 {
	meta, err := market.LookupInstrument(symbol)
	if err != nil {
		return 0
	}
	mid := e.prices[symbol].Mid()
	if mid == 0 {
		mid = price
	}
	v, err := market.ValuePerLot(meta, e.acct.Currency, mid)
	if err != nil {
		return 0
	}
	return v
}

func (e *Engine) profitLocked(t *Trade) float64 {
	p, ok := e.prices[t.Instrument]
	if !ok {
		return 0
	}
	mark := p.Exit(t.Direction)
	return UnrealizedPL(*t, t.Lots, mark, e.valuePerLotLocked(t.Instrument, mark))
}

// closeLocked realizes lots of t at price. Closing the full volume closes
// the trade.
func (e *Engine) closeLocked(t *Trade, lots, price float64, at time.Time, reason string) error {
	pl := UnrealizedPL(*t, lots, price, e.valuePerLotLocked(t.Instrument, price))
	e.acct.Balance += pl
	t.RealizedPL += pl

	rec := journal.TradeRecord{
		TradeID:    t.ID,
		Instrument: t.Instrument,
		Direction:  t.Direction.String(),
		TradeType:  t.Label,
		Lots:       lots,
		EntryPrice: t.EntryPrice,
		ExitPrice:  price,
		OpenTime:   t.OpenTime,
		CloseTime:  at,
		RealizedPL: pl,
		Reason:     reason,
	}

	if lots >= t.Lots-lotEpsilon {
		t.ClosePrice = price
		t.CloseTime = at
		t.Open = false
	} else {
		t.Partials++
		t.Lots = math.Round((t.Lots-lots)*1e8) / 1e8
		rec.TradeID = fmt.Sprintf("%s.%d", t.ID, t.Partials)
	}

	e.log.WithFields(logrus.Fields{
		"ticket": t.ID,
		"lots":   lots,
		"price":  price,
		"pl":     pl,
		"reason": reason,
	}).Debug("trade closed")

	return e.journal.RecordTrade(rec)
}

func (e *Engine) revalueLocked() {
	equity := e.acct.Balance
	for _, t := range e.trades {
		if t.Open {
			equity += e.profitLocked(t)
		}
	}
	e.acct.Equity = equity
}

func (e *Engine) snapshotLocked(at time.Time) error {
	return e.journal.RecordEquity(journal.EquitySnapshot{
		Time:          at,
		Balance:       e.acct.Balance,
		Equity:        e.acct.Equity,
		OpenPositions: len(e.openTradesLocked("")),
	})
}
