// Package risk tracks account-level risk for one symbol and decides
// whether new trades may open.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/broker"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
)

const (
	// Correlation is the fixed correlation assumed between positions in
	// the same direction. It is not estimated from data.
	Correlation = 0.75

	// PendingWeight is the share of a limit order's risk reserved while
	// it rests.
	PendingWeight = 0.5

	// ClosedRiskFactor scales realized profit into released open risk.
	ClosedRiskFactor = 1.5

	// riskTolerance absorbs float noise in account-currency risk sums.
	riskTolerance = 1e-6

	ReconcileInterval = 4 * time.Hour
	// ReconcileSlack is how far tracked risk may exceed actual risk before
	// reconciliation pulls it down.
	ReconcileSlack = 1.5

	// VaR widens by up to VaRStretchMax once drawdown has stayed above
	// VaRStretchDrawdownPct for VaRStretchAfter, reaching the maximum
	// after VaRStretchDays in drawdown.
	VaRStretchDrawdownPct = 3.0
	VaRStretchAfter       = 24 * time.Hour
	VaRStretchDays        = 10.0
	VaRStretchMax         = 0.5
)

// State is the risk bookkeeping of one engine.
type State struct {
	InitialEquity      float64
	PeakEquity         float64
	CurrentDrawdownPct float64
	DailyLoss          float64
	LastDayChecked     time.Time
	OpenRisk           float64
	VaRLimit           float64

	// DrawdownSince is when drawdown last rose above
	// VaRStretchDrawdownPct; zero when it is below.
	DrawdownSince time.Time
	LastReconcile time.Time
	LastVaR       time.Time
	// OpenRiskAtVaR is OpenRisk when VaRLimit was last computed.
	OpenRiskAtVaR float64
}

type Engine struct {
	acct   broker.Account
	symbol string
	meta   market.InstrumentMeta
	policy Policy
	now    func() time.Time
	state  State

	pending map[string]float64
	log     *logrus.Entry
}

// NewEngine initializes risk state from the account's current equity.
// now supplies the engine's clock, the simulation clock in a backtest.
func NewEngine(ctx context.Context, acct broker.Account, symbol string, policy Policy, now func() time.Time, log *logger.Logger) (*Engine, error) {
	meta, err := market.LookupInstrument(symbol)
	if err != nil {
		return nil, err
	}
	if policy.BaseRiskPct <= 0 {
		return nil, fmt.Errorf("risk: base risk must be positive, got %v", policy.BaseRiskPct)
	}
	if policy.AccountCurrency == "" {
		policy.AccountCurrency = "USD"
	}
	if policy.VaRPct <= 0 {
		policy.VaRPct = DefaultPolicy().VaRPct
	}
	if policy.MaxCorrelatedRiskMult <= 0 {
		policy.MaxCorrelatedRiskMult = DefaultPolicy().MaxCorrelatedRiskMult
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}

	equity, err := acct.AccountEquity(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: initial equity: %w", err)
	}

	e := &Engine{
		acct:    acct,
		symbol:  symbol,
		meta:    meta,
		policy:  policy,
		now:     now,
		pending: make(map[string]float64),
		log:     log.Component("risk", symbol),
	}
	t := now()
	e.state = State{
		InitialEquity:  equity,
		PeakEquity:     equity,
		LastDayChecked: dayOf(t),
	}
	e.recomputeVaR(equity, t)
	return e, nil
}

// State returns a copy of the current risk state.
func (e *Engine) State() State { return e.state }

func (e *Engine) Policy() Policy { return e.policy }

// BaseRiskAmount is the account-currency risk of one new trade at equity.
func (e *Engine) BaseRiskAmount(equity float64) float64 {
	return equity * e.policy.BaseRiskPct / 100
}

// CanOpenNewTrades refreshes risk state and evaluates the vetoes. An error
// means the state could not be refreshed; callers treat it as no new
// trades this cycle.
func (e *Engine) CanOpenNewTrades(ctx context.Context) (Decision, error) {
	if err := e.UpdateRiskStatus(ctx); err != nil {
		return Decision{}, err
	}

	d := evaluate(e.policy, e.state)
	if !d.Allowed {
		for _, v := range d.Violations {
			e.log.WithFields(logrus.Fields{
				"outcome": logger.OutcomeVeto,
				"code":    v.Code,
			}).Info(v.Msg)
		}
	}
	return d, nil
}

// UpdateRiskStatus rolls the daily epoch, refreshes drawdown, reconciles
// open risk every ReconcileInterval and keeps the VaR limit at most a day
// old. Calling it again without trade activity changes nothing.
func (e *Engine) UpdateRiskStatus(ctx context.Context) error {
	equity, err := e.acct.AccountEquity(ctx)
	if err != nil {
		return fmt.Errorf("risk status: %w", err)
	}
	now := e.now()
	s := &e.state

	e.refreshDrawdown(equity, now)

	if day := dayOf(now); !day.Equal(s.LastDayChecked) {
		s.DailyLoss = 0
		s.LastDayChecked = day
		e.recomputeVaR(equity, now)
	}

	if now.Sub(s.LastReconcile) >= ReconcileInterval {
		if err := e.reconcile(ctx); err != nil {
			return err
		}
		s.LastReconcile = now
		e.recomputeVaR(equity, now)
	}

	if now.Sub(s.LastVaR) >= 24*time.Hour {
		e.recomputeVaR(equity, now)
	}
	return nil
}

func (e *Engine) refreshDrawdown(equity float64, now time.Time) {
	s := &e.state
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
	if s.PeakEquity > 0 {
		s.CurrentDrawdownPct = (s.PeakEquity - equity) / s.PeakEquity * 100
	}

	if s.CurrentDrawdownPct > VaRStretchDrawdownPct {
		if s.DrawdownSince.IsZero() {
			s.DrawdownSince = now
		}
	} else {
		s.DrawdownSince = time.Time{}
	}
}

// CalculateVaR returns the risk budget for equity at now: VaRPct of
// equity, stretched the longer a deep drawdown lasts.
func (e *Engine) CalculateVaR(equity float64, now time.Time) float64 {
	base := equity * e.policy.VaRPct / 100
	s := e.state
	if s.CurrentDrawdownPct <= VaRStretchDrawdownPct || s.DrawdownSince.IsZero() {
		return base
	}
	in := now.Sub(s.DrawdownSince)
	if in <= VaRStretchAfter {
		return base
	}
	days := in.Hours() / 24
	return base * (1 + VaRStretchMax*math.Min(days/VaRStretchDays, 1))
}

func (e *Engine) recomputeVaR(equity float64, now time.Time) {
	e.state.VaRLimit = e.CalculateVaR(equity, now)
	e.state.LastVaR = now
	e.state.OpenRiskAtVaR = e.state.OpenRisk
}

// reconcile pulls tracked open risk down to the broker's actual position
// risk, plus the reservations of resting orders, when tracking has
// drifted more than ReconcileSlack above it.
func (e *Engine) reconcile(ctx context.Context) error {
	ps, err := e.acct.OpenPositions(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("risk reconcile: %w", err)
	}
	equity, err := e.acct.AccountEquity(ctx)
	if err != nil {
		return fmt.Errorf("risk reconcile: %w", err)
	}

	actual := 0.0
	for _, p := range ps {
		actual += e.positionRisk(p, equity)
	}
	for _, r := range e.pending {
		actual += PendingWeight * r
	}
	if e.state.OpenRisk > ReconcileSlack*actual {
		e.log.WithFields(logrus.Fields{
			"tracked": e.state.OpenRisk,
			"actual":  actual,
		}).Debug("open risk reconciled down")
		e.state.OpenRisk = actual
	}
	return nil
}

// positionRisk is the loss if p is stopped out, zero once the stop locks
// in profit. Without a stop the base risk amount is assumed.
func (e *Engine) positionRisk(p broker.PositionSnapshot, equity float64) float64 {
	if p.StopLoss == 0 {
		return e.BaseRiskAmount(equity)
	}
	dist := p.Direction.Sign() * (p.EntryPrice - p.StopLoss)
	if dist <= 0 {
		return 0
	}
	return RiskAmount(p.Lots, dist, e.valuePerLot(p.EntryPrice))
}

func (e *Engine) valuePerLot(price float64) float64 {
	v, err := market.ValuePerLot(e.meta, e.policy.AccountCurrency, price)
	if err != nil {
		return e.meta.ContractSize
	}
	return v
}

// CheckCorrelationRisk reports whether a new position of lots in d with
// a stop stopDistance away fits under the correlated risk cap, treating
// every same-direction position as Correlation-correlated with it. On
// false the caller halves the size.
func (e *Engine) CheckCorrelationRisk(ctx context.Context, d market.Direction, lots, stopDistance, price float64) (bool, error) {
	ps, err := e.acct.OpenPositions(ctx, e.symbol)
	if err != nil {
		return false, fmt.Errorf("correlation risk: %w", err)
	}
	equity, err := e.acct.AccountEquity(ctx)
	if err != nil {
		return false, fmt.Errorf("correlation risk: %w", err)
	}

	existing := 0.0
	for _, p := range ps {
		if p.Direction == d {
			existing += e.positionRisk(p, equity)
		}
	}

	add := e.BaseRiskAmount(equity)
	if stopDistance > 0 {
		add = RiskAmount(lots, stopDistance, e.valuePerLot(price))
	}

	combined := math.Sqrt(existing*existing + add*add + 2*Correlation*existing*add)
	limit := e.policy.MaxCorrelatedRiskMult * e.BaseRiskAmount(equity)
	ok := combined <= limit+riskTolerance
	if !ok {
		e.log.WithFields(logrus.Fields{
			"outcome":   logger.OutcomeVeto,
			"code":      "CORRELATED_RISK",
			"direction": d.String(),
			"combined":  combined,
			"limit":     limit,
		}).Info("correlated risk over cap")
	}
	return ok, nil
}

// RegisterNewTrade adds a filled trade's risk to open risk.
func (e *Engine) RegisterNewTrade(risk float64) {
	e.state.OpenRisk += math.Abs(risk)
}

// RegisterPendingOrder reserves PendingWeight of a resting order's risk.
func (e *Engine) RegisterPendingOrder(ticket string, risk float64) {
	risk = math.Abs(risk)
	e.pending[ticket] = risk
	e.state.OpenRisk += PendingWeight * risk
}

// PromotePendingOrder books the rest of a filled order's risk. It
// reports false for unknown tickets.
func (e *Engine) PromotePendingOrder(ticket string) bool {
	risk, ok := e.pending[ticket]
	if !ok {
		return false
	}
	delete(e.pending, ticket)
	e.state.OpenRisk += (1 - PendingWeight) * risk
	return true
}

// ReleasePendingOrder drops the reservation of an order that went away
// unfilled.
func (e *Engine) ReleasePendingOrder(ticket string) bool {
	risk, ok := e.pending[ticket]
	if !ok {
		return false
	}
	delete(e.pending, ticket)
	e.state.OpenRisk = math.Max(0, e.state.OpenRisk-PendingWeight*risk)
	return true
}

// PendingTickets lists the orders holding a reservation.
func (e *Engine) PendingTickets() []string {
	out := make([]string, 0, len(e.pending))
	for t := range e.pending {
		out = append(out, t)
	}
	return out
}

// RegisterClosedTrade books a realized result. Open risk drops by
// ClosedRiskFactor times the absolute profit, losses count toward the
// daily loss and the VaR limit is refreshed once open risk has halved.
func (e *Engine) RegisterClosedTrade(ctx context.Context, profit float64) error {
	s := &e.state
	s.OpenRisk = math.Max(0, s.OpenRisk-ClosedRiskFactor*math.Abs(profit))
	if profit < 0 {
		s.DailyLoss += -profit
	}

	equity, err := e.acct.AccountEquity(ctx)
	if err != nil {
		return fmt.Errorf("register closed trade: %w", err)
	}
	if profit > 0 && equity > s.PeakEquity {
		s.PeakEquity = equity
	}

	if s.OpenRiskAtVaR > 0 && s.OpenRisk <= s.OpenRiskAtVaR/2 {
		e.recomputeVaR(equity, e.now())
	}
	return nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
