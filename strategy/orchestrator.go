// Package strategy ties zone detection, the macro filter, risk admission
// and position management together. An Orchestrator is driven by two
// calls: OnTimer once an hour and OnTick on every price update.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/broker"
	"github.com/rustyeddy/zonetrader/indicators"
	"github.com/rustyeddy/zonetrader/journal"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/macro"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/position"
	"github.com/rustyeddy/zonetrader/risk"
	"github.com/rustyeddy/zonetrader/zones"
)

// Trade types recorded on positions and order labels.
const (
	TradeTypeFade   = "fade"
	TradeTypeRetest = "retest"
)

type Config struct {
	Symbol string
	// Tag prefixes every order label so the strategy's orders can be told
	// apart from anything else on the account.
	Tag string

	ExecTimeframe    market.Timeframe
	ConfirmTimeframe market.Timeframe
	ATRPeriod        int

	// SweepATR is how far past a zone edge, in ATRs, a wick must reach to
	// count as a liquidity sweep.
	SweepATR float64
	// BreakATR is how far past a zone edge, in ATRs, a close must settle
	// to count as a break.
	BreakATR float64
	// StopATR is the buffer, in ATRs, placed beyond the zone edge.
	StopATR float64

	// RetestBars is how many execution bars after a break a retest is
	// still traded.
	RetestBars int
	// BreakCooldown is the minimum time between two breaks of one zone.
	BreakCooldown time.Duration
	// MaxBreaksPerHour limits new break detections in any rolling hour.
	MaxBreaksPerHour int
	// MaxBreaksPerPass limits break detections in one evaluation.
	MaxBreaksPerPass int
	// PendingExpiry cancels retest limit orders that have not filled.
	PendingExpiry time.Duration

	Zones    zones.Config
	Position position.Config
}

func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:           symbol,
		Tag:              "zonetrader",
		ExecTimeframe:    market.H4,
		ConfirmTimeframe: market.H1,
		ATRPeriod:        14,
		SweepATR:         0.25,
		BreakATR:         0.5,
		StopATR:          1.0,
		RetestBars:       12,
		BreakCooldown:    24 * time.Hour,
		MaxBreaksPerHour: 2,
		MaxBreaksPerPass: 2,
		PendingExpiry:    48 * time.Hour,
		Zones:            zones.Config{Depth: 0.5, SweepBand: 0.0010, ATRPeriod: 14},
		Position:         position.DefaultConfig(),
	}
}

// Deps are the collaborators an Orchestrator drives. Macro may be nil,
// which passes every direction.
type Deps struct {
	Broker  broker.Broker
	Source  market.Source
	Risk    *risk.Engine
	Macro   *macro.Filter
	Journal journal.Journal
	Now     func() time.Time
	Log     *logger.Logger
}

type pendingOrder struct {
	zoneID string
	risk   float64
	placed time.Time
}

type Orchestrator struct {
	cfg      Config
	meta     market.InstrumentMeta
	br       broker.Broker
	src      market.Source
	risk     *risk.Engine
	filter   *macro.Filter
	journal  journal.Journal
	book     *zones.Book
	detector *zones.Detector
	pos      *position.Manager
	now      func() time.Time
	log      *logrus.Entry

	lastScanDay    time.Time
	scans          int
	lastExecBar    time.Time
	lastConfirmBar time.Time
	// breakTimes holds break detections inside the rolling hour.
	breakTimes []time.Time
	pending    map[string]*pendingOrder
}

// New validates cfg and builds an Orchestrator with its own zone book,
// detector and position manager.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Broker == nil || deps.Source == nil || deps.Risk == nil {
		return nil, errors.New("strategy: broker, source and risk engine are required")
	}
	meta, err := market.LookupInstrument(cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	def := DefaultConfig(cfg.Symbol)
	if cfg.ExecTimeframe == 0 {
		cfg.ExecTimeframe = def.ExecTimeframe
	}
	if cfg.ConfirmTimeframe == 0 {
		cfg.ConfirmTimeframe = def.ConfirmTimeframe
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.RetestBars <= 0 {
		cfg.RetestBars = def.RetestBars
	}
	if cfg.MaxBreaksPerHour <= 0 {
		cfg.MaxBreaksPerHour = def.MaxBreaksPerHour
	}
	if cfg.MaxBreaksPerPass <= 0 {
		cfg.MaxBreaksPerPass = def.MaxBreaksPerPass
	}
	if cfg.PendingExpiry <= 0 {
		cfg.PendingExpiry = def.PendingExpiry
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}

	o := &Orchestrator{
		cfg:     cfg,
		meta:    meta,
		br:      deps.Broker,
		src:     deps.Source,
		risk:    deps.Risk,
		filter:  deps.Macro,
		journal: deps.Journal,
		book:    zones.NewBook(),
		now:     deps.Now,
		log:     deps.Log.Component("strategy", cfg.Symbol),
		pending: make(map[string]*pendingOrder),
	}

	o.detector, err = zones.NewDetector(deps.Source, cfg.Symbol, cfg.Zones, o.book, deps.Log)
	if err != nil {
		return nil, err
	}

	cfg.Position.ExecTimeframe = cfg.ExecTimeframe
	cfg.Position.AccountCurrency = deps.Risk.Policy().AccountCurrency
	o.pos, err = position.NewManager(deps.Broker, deps.Source, cfg.Symbol, cfg.Position, position.Hooks{
		OnOpened: o.onOpened,
		OnClosed: o.onClosed,
	}, deps.Now, deps.Log)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) Book() *zones.Book { return o.book }

func (o *Orchestrator) Positions() *position.Manager { return o.pos }

func (o *Orchestrator) Risk() *risk.Engine { return o.risk }

// Scans counts completed zone detection passes.
func (o *Orchestrator) Scans() int { return o.scans }

// Start runs the first zone scan. A failed scan is logged and retried
// by OnTimer; it does not stop the strategy.
func (o *Orchestrator) Start(ctx context.Context) {
	o.rescan(ctx, true)
}

// OnTimer is the hourly housekeeping call. It rescans zones once a new
// daily bar has closed.
func (o *Orchestrator) OnTimer(ctx context.Context) {
	o.rescan(ctx, false)
}

// OnTick runs one evaluation: manage open positions, refresh risk, settle
// resting orders, then evaluate triggers when a new bar has closed. Every
// failure is local to this call and logged.
func (o *Orchestrator) OnTick(ctx context.Context) {
	if err := o.pos.Manage(ctx); err != nil {
		o.dataWarning("manage positions", err)
	}
	if err := o.risk.UpdateRiskStatus(ctx); err != nil {
		o.dataWarning("risk status", err)
	}
	o.syncPending(ctx)

	newExec, err := o.newBar(ctx, o.cfg.ExecTimeframe, &o.lastExecBar)
	if err != nil {
		o.dataWarning("execution bar", err)
	}
	newConfirm, err := o.newBar(ctx, o.cfg.ConfirmTimeframe, &o.lastConfirmBar)
	if err != nil {
		o.dataWarning("confirmation bar", err)
	}
	if !newExec && !newConfirm {
		return
	}
	if o.book.Len() == 0 {
		return
	}

	decision, err := o.risk.CanOpenNewTrades(ctx)
	if err != nil {
		o.dataWarning("admission", err)
		return
	}
	if !decision.Allowed {
		return
	}

	atr, err := o.execATR(ctx)
	if err != nil {
		o.dataWarning("execution ATR", err)
		return
	}

	if newExec {
		o.detectSweeps(ctx, atr)
		o.detectBreaks(ctx, atr)
	}
	if newConfirm {
		o.confirmFades(ctx, atr)
		o.checkRetests(ctx, atr)
	}
}

// rescan replaces the zone set when a daily bar newer than the last scan
// has closed, or unconditionally when force is set.
func (o *Orchestrator) rescan(ctx context.Context, force bool) {
	last, err := o.src.Bars(ctx, o.cfg.Symbol, market.D1, 0, 1)
	if err != nil {
		o.dataWarning("daily bar", err)
		return
	}
	day := last[0].Time
	if !force && !day.After(o.lastScanDay) {
		return
	}

	zs, err := o.detector.Scan(ctx)
	if err != nil {
		o.dataWarning("zone scan", err)
		return
	}
	o.lastScanDay = day
	o.scans++

	now := o.now()
	for _, z := range zs {
		err := o.journal.RecordZone(journal.ZoneSnapshot{
			Time:       now,
			Instrument: o.cfg.Symbol,
			ZoneID:     z.ID,
			Mid:        z.Mid,
			Width:      z.Width,
			Strength:   z.Strength,
		})
		if err != nil {
			o.log.WithError(err).Warn("journal zone")
		}
	}
	o.log.WithFields(logrus.Fields{
		"zones": len(zs),
		"day":   day.Format("2006-01-02"),
	}).Info("zones rescanned")
}

// newBar reports whether the last closed tf bar is newer than *last and
// advances *last.
func (o *Orchestrator) newBar(ctx context.Context, tf market.Timeframe, last *time.Time) (bool, error) {
	bars, err := o.src.Bars(ctx, o.cfg.Symbol, tf, 0, 1)
	if err != nil {
		return false, err
	}
	t := bars[0].Time
	if !t.After(*last) {
		return false, nil
	}
	*last = t
	return true, nil
}

func (o *Orchestrator) execATR(ctx context.Context) (float64, error) {
	bars, err := o.src.Bars(ctx, o.cfg.Symbol, o.cfg.ExecTimeframe, 0, 3*o.cfg.ATRPeriod+1)
	if err != nil {
		return 0, err
	}
	return indicators.ATR(bars, o.cfg.ATRPeriod)
}

// size returns the lots and account-currency risk of a new trade with
// the given entry and stop. Lots are halved when the correlated risk cap
// would be exceeded; zero lots means no trade.
func (o *Orchestrator) size(ctx context.Context, d market.Direction, entry, stop float64) (lots, amount float64, err error) {
	equity, err := o.br.AccountEquity(ctx)
	if err != nil {
		return 0, 0, err
	}
	dist := math.Abs(entry - stop)
	vpl, err := market.ValuePerLot(o.meta, o.risk.Policy().AccountCurrency, entry)
	if err != nil {
		return 0, 0, err
	}

	lots = risk.LotsForRisk(o.risk.BaseRiskAmount(equity), dist, vpl, o.meta)
	if lots == 0 {
		return 0, 0, nil
	}

	ok, err := o.risk.CheckCorrelationRisk(ctx, d, lots, dist, entry)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		lots = risk.NormalizeLots(lots/2, o.meta)
	}
	return lots, risk.RiskAmount(lots, dist, vpl), nil
}

// stopBeyond places a stop buffer beyond edge, away from d, and pushes it
// out to the broker minimum distance from ref when needed.
func (o *Orchestrator) stopBeyond(d market.Direction, edge, buffer, ref, spread float64) float64 {
	stop := edge - d.Sign()*buffer
	minDist := o.meta.MinStopDistance() + spread
	if d.Sign()*(ref-stop) < minDist {
		stop = ref - d.Sign()*minDist
	}
	return stop
}

func (o *Orchestrator) label(tradeType string) string {
	if o.cfg.Tag == "" {
		return tradeType
	}
	return o.cfg.Tag + ":" + tradeType
}

func (o *Orchestrator) macroOK(ctx context.Context, d market.Direction) bool {
	ok, _ := o.filter.Check(ctx, d)
	return ok
}

// adopt starts managing a filled entry and books its risk.
func (o *Orchestrator) adopt(p position.Position, bookRisk bool) {
	o.pos.Add(p)
	if bookRisk {
		o.risk.RegisterNewTrade(p.InitialR)
	}
	o.log.WithFields(logrus.Fields{
		"ticket":    p.Ticket,
		"direction": p.Direction.String(),
		"type":      p.TradeType,
		"lots":      p.Lots,
		"entry":     p.EntryPrice,
		"stop":      p.StopLoss,
		"risk":      p.InitialR,
	}).Info("position opened")
}

func (o *Orchestrator) onOpened(_ context.Context, p position.Position) {
	o.risk.RegisterNewTrade(p.InitialR)
}

func (o *Orchestrator) onClosed(ctx context.Context, p position.Position, reason string) {
	if err := o.risk.RegisterClosedTrade(ctx, p.Profit); err != nil {
		o.dataWarning("register closed trade", err)
	}
}

func (o *Orchestrator) execFailure(action string, err error) {
	if err == nil {
		err = broker.ErrExecution
	}
	o.log.WithError(err).WithFields(logrus.Fields{
		"outcome": logger.OutcomeExecutionFailure,
		"action":  action,
	}).Error("broker rejected request")
}

func (o *Orchestrator) dataWarning(step string, err error) {
	e := o.log.WithError(err).WithField("step", step)
	if errors.Is(err, market.ErrDataUnavailable) {
		e = e.WithField("outcome", logger.OutcomeDataUnavailable)
	}
	e.Warn("step skipped")
}
