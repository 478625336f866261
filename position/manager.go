// Package position manages live positions: time stops, pyramiding,
// partial profit taking and trailing stops.
package position

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/broker"
	"github.com/rustyeddy/zonetrader/indicators"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/risk"
)

// Close reasons passed to OnClosed.
const (
	ReasonBrokerClosed = "closed_by_broker"
	ReasonTimeStop     = "time_stop"
)

// TradeTypePyramid labels add-on legs.
const TradeTypePyramid = "pyramid"

type Config struct {
	AccountCurrency string
	MaxPyramids     int
	// PyramidRiskPct is the equity risked on one add-on leg, in percent.
	PyramidRiskPct float64
	// PartialProfitR is the profit, in multiples of InitialR, at which a
	// partial close is taken.
	PartialProfitR  float64
	PartialFraction float64
	// TimeStopBars is the age, in execution bars, after which a position
	// that has not made InitialR is closed.
	TimeStopBars   int
	ExecTimeframe  market.Timeframe
	ChandelierBars int
	ChandelierMult float64
	ATRPeriod      int
	// SafetyPoints is added to the broker stops level before a trailed
	// stop is accepted.
	SafetyPoints int
}

func DefaultConfig() Config {
	return Config{
		AccountCurrency: "USD",
		MaxPyramids:     3,
		PyramidRiskPct:  0.3,
		PartialProfitR:  2.0,
		PartialFraction: 0.25,
		TimeStopBars:    6,
		ExecTimeframe:   market.H4,
		ChandelierBars:  10,
		ChandelierMult:  3,
		ATRPeriod:       14,
		SafetyPoints:    2,
	}
}

// Position is one live broker position as the manager tracks it.
type Position struct {
	Ticket       string
	Direction    market.Direction
	EntryPrice   float64
	StopLoss     float64
	Lots         float64
	TradeType    string
	OpenTime     time.Time
	InitialR     float64
	PyramidCount int
	Profit       float64
	PartialTaken bool
}

// Hooks report position lifecycle events to the owner, typically to
// keep risk tracking in step.
type Hooks struct {
	OnOpened func(ctx context.Context, p Position)
	OnClosed func(ctx context.Context, p Position, reason string)
}

type Manager struct {
	br     broker.Broker
	src    market.Source
	symbol string
	meta   market.InstrumentMeta
	cfg    Config
	hooks  Hooks
	now    func() time.Time
	log    *logrus.Entry

	positions []*Position
}

func NewManager(br broker.Broker, src market.Source, symbol string, cfg Config, hooks Hooks, now func() time.Time, log *logger.Logger) (*Manager, error) {
	meta, err := market.LookupInstrument(symbol)
	if err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.AccountCurrency == "" {
		cfg.AccountCurrency = def.AccountCurrency
	}
	if cfg.PartialFraction <= 0 {
		cfg.PartialFraction = def.PartialFraction
	}
	if cfg.PartialProfitR <= 0 {
		cfg.PartialProfitR = def.PartialProfitR
	}
	if cfg.TimeStopBars <= 0 {
		cfg.TimeStopBars = def.TimeStopBars
	}
	if cfg.ExecTimeframe == 0 {
		cfg.ExecTimeframe = def.ExecTimeframe
	}
	if cfg.ChandelierBars <= 0 {
		cfg.ChandelierBars = def.ChandelierBars
	}
	if cfg.ChandelierMult <= 0 {
		cfg.ChandelierMult = def.ChandelierMult
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		br:     br,
		src:    src,
		symbol: symbol,
		meta:   meta,
		cfg:    cfg,
		hooks:  hooks,
		now:    now,
		log:    log.Component("position", symbol),
	}, nil
}

// Add starts tracking a filled position.
func (m *Manager) Add(p Position) {
	m.positions = append(m.positions, &p)
}

// Positions returns copies of the tracked positions in the order added.
func (m *Manager) Positions() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

func (m *Manager) Get(ticket string) (Position, bool) {
	for _, p := range m.positions {
		if p.Ticket == ticket {
			return *p, true
		}
	}
	return Position{}, false
}

func (m *Manager) Len() int { return len(m.positions) }

// Manage runs one management pass. Positions the broker no longer
// reports are dropped; the rest get, in order, a time-stop check, a
// pyramid attempt, a partial-profit attempt and a trailing-stop update.
// An error means the broker could not be read and nothing changed.
func (m *Manager) Manage(ctx context.Context) error {
	if len(m.positions) == 0 {
		return nil
	}
	snaps, err := m.br.OpenPositions(ctx, m.symbol)
	if err != nil {
		return err
	}
	tick, err := m.br.Tick(ctx, m.symbol)
	if err != nil {
		return err
	}
	now := m.now()

	for i := len(m.positions) - 1; i >= 0; i-- {
		p := m.positions[i]
		snap, ok := broker.Find(snaps, p.Ticket)
		if !ok {
			m.remove(ctx, i, ReasonBrokerClosed)
			continue
		}
		p.Profit = snap.Profit
		p.Lots = snap.Lots
		if snap.StopLoss != 0 {
			p.StopLoss = snap.StopLoss
		}

		if m.timeStop(ctx, p, now) {
			m.remove(ctx, i, ReasonTimeStop)
			continue
		}
		m.tryPyramid(ctx, p, tick, now)
		m.tryPartial(ctx, p)
		m.trail(ctx, p, tick)
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, i int, reason string) {
	p := *m.positions[i]
	m.positions = append(m.positions[:i], m.positions[i+1:]...)
	m.entry(&p).WithField("reason", reason).Info("position closed")
	if m.hooks.OnClosed != nil {
		m.hooks.OnClosed(ctx, p, reason)
	}
}

func (m *Manager) timeStop(ctx context.Context, p *Position, now time.Time) bool {
	limit := time.Duration(m.cfg.TimeStopBars) * m.cfg.ExecTimeframe.Duration()
	if now.Sub(p.OpenTime) <= limit || p.Profit >= p.InitialR {
		return false
	}
	if err := m.br.ClosePosition(ctx, p.Ticket); err != nil {
		m.execFailure(p, "time stop close", err)
		return false
	}
	return true
}

// tryPyramid adds a leg funded by open profit and pulls every
// same-direction stop up to the new leg's stop where that tightens it.
// Only the originating position adds legs, so its PyramidCount bounds
// the whole group.
func (m *Manager) tryPyramid(ctx context.Context, p *Position, tick market.Tick, now time.Time) {
	if p.TradeType == TradeTypePyramid {
		return
	}
	if p.PyramidCount >= m.cfg.MaxPyramids || p.Profit < p.InitialR {
		return
	}
	equity, err := m.br.AccountEquity(ctx)
	if err != nil {
		m.dataWarning(p, "pyramid equity", err)
		return
	}
	addRisk := equity * m.cfg.PyramidRiskPct / 100
	if addRisk <= 0 || p.Profit < addRisk {
		return
	}

	bars, err := m.src.Bars(ctx, m.symbol, market.H1, 0, 3*m.cfg.ATRPeriod+1)
	if err != nil {
		m.dataWarning(p, "pyramid ATR", err)
		return
	}
	atr, err := indicators.ATR(bars, m.cfg.ATRPeriod)
	if err != nil {
		m.dataWarning(p, "pyramid ATR", err)
		return
	}

	d := p.Direction
	entry := tick.Entry(d)
	dist := atr
	if minDist := m.meta.MinStopDistance() + tick.Spread(); dist < minDist {
		dist = minDist
	}
	stop := entry - d.Sign()*dist

	vpl := m.valuePerLot(tick.Mid())
	lots := risk.LotsForRisk(addRisk, dist, vpl, m.meta)
	if lots == 0 {
		return
	}

	res, err := m.br.PlaceMarketOrder(ctx, m.symbol, d, lots, stop, TradeTypePyramid)
	if err != nil || !res.Success {
		m.execFailure(p, "pyramid order", err)
		return
	}
	if res.Price != 0 {
		entry = res.Price
	}

	p.PyramidCount++
	leg := &Position{
		Ticket:       res.Ticket,
		Direction:    d,
		EntryPrice:   entry,
		StopLoss:     stop,
		Lots:         lots,
		TradeType:    TradeTypePyramid,
		OpenTime:     now,
		InitialR:     risk.RiskAmount(lots, dist, vpl),
		PyramidCount: p.PyramidCount,
	}
	m.positions = append(m.positions, leg)
	m.entry(leg).WithFields(logrus.Fields{
		"parent":  p.Ticket,
		"pyramid": p.PyramidCount,
	}).Info("pyramid leg opened")
	if m.hooks.OnOpened != nil {
		m.hooks.OnOpened(ctx, *leg)
	}

	for _, q := range m.positions {
		if q.Direction != d || q.Ticket == leg.Ticket {
			continue
		}
		if q.StopLoss != 0 && !d.Better(stop, q.StopLoss) {
			continue
		}
		if err := m.br.ModifyStop(ctx, q.Ticket, stop); err != nil {
			m.execFailure(q, "group stop", err)
			continue
		}
		q.StopLoss = stop
	}
}

// tryPartial closes PartialFraction of the volume once per position after
// two pyramids and PartialProfitR of profit.
func (m *Manager) tryPartial(ctx context.Context, p *Position) {
	if p.PartialTaken || p.PyramidCount < 2 || p.InitialR <= 0 {
		return
	}
	if p.Profit < m.cfg.PartialProfitR*p.InitialR {
		return
	}

	lots := risk.NormalizeLots(p.Lots*m.cfg.PartialFraction, m.meta)
	if lots == 0 {
		lots = m.meta.MinLot
	}
	if p.Lots-lots < m.meta.MinLot {
		return
	}

	if err := m.br.ClosePartial(ctx, p.Ticket, lots); err != nil {
		m.execFailure(p, "partial close", err)
		return
	}
	p.Lots = math.Round((p.Lots-lots)*1e8) / 1e8
	p.PartialTaken = true
	m.entry(p).WithField("closed_lots", lots).Info("partial profit taken")
}

// TrailLevel computes the candidate trailing stop for p: the chandelier
// level combined with the anchored VWAP, whichever is tighter. ok is
// false when the chandelier cannot be computed.
func (m *Manager) TrailLevel(ctx context.Context, p Position) (float64, bool) {
	n := m.cfg.ChandelierBars
	if need := 3*m.cfg.ATRPeriod + 1; need > n {
		n = need
	}
	h4, err := m.src.Bars(ctx, m.symbol, m.cfg.ExecTimeframe, 0, n)
	if err != nil {
		m.dataWarning(&p, "trail bars", err)
		return 0, false
	}
	atr, err := indicators.ATR(h4, m.cfg.ATRPeriod)
	if err != nil {
		m.dataWarning(&p, "trail ATR", err)
		return 0, false
	}
	recent := h4[len(h4)-m.cfg.ChandelierBars:]

	var level float64
	if p.Direction == market.Long {
		level = indicators.HighestClose(recent) - m.cfg.ChandelierMult*atr
	} else {
		level = indicators.LowestClose(recent) + m.cfg.ChandelierMult*atr
	}

	if vwap, ok := m.anchoredVWAP(ctx, p); ok {
		if p.Direction == market.Long {
			level = math.Max(level, vwap)
		} else {
			level = math.Min(level, vwap)
		}
	}
	return level, true
}

func (m *Manager) anchoredVWAP(ctx context.Context, p Position) (float64, bool) {
	hours := int(m.now().Sub(p.OpenTime)/time.Hour) + 1
	if hours < 1 {
		return 0, false
	}
	if hours > 24*30 {
		hours = 24 * 30
	}
	h1, err := m.src.Bars(ctx, m.symbol, market.H1, 0, hours)
	if err != nil {
		return 0, false
	}
	return indicators.AnchoredVWAP(h1, p.OpenTime)
}

// trail moves the stop to the trail level when it tightens the stop and
// clears the broker stops level plus the safety buffer.
func (m *Manager) trail(ctx context.Context, p *Position, tick market.Tick) {
	level, ok := m.TrailLevel(ctx, *p)
	if !ok {
		return
	}
	d := p.Direction
	if p.StopLoss != 0 && !d.Better(level, p.StopLoss) {
		return
	}

	clearance := m.meta.MinStopDistance() + float64(m.cfg.SafetyPoints)*m.meta.Point()
	exit := tick.Exit(d)
	if (d == market.Long && level > exit-clearance) || (d == market.Short && level < exit+clearance) {
		m.entry(p).WithField("level", level).Debug("trail level too close to price")
		return
	}

	if err := m.br.ModifyStop(ctx, p.Ticket, level); err != nil {
		m.execFailure(p, "trail stop", err)
		return
	}
	p.StopLoss = level
}

func (m *Manager) valuePerLot(mid float64) float64 {
	v, err := market.ValuePerLot(m.meta, m.cfg.AccountCurrency, mid)
	if err != nil {
		return m.meta.ContractSize
	}
	return v
}

func (m *Manager) entry(p *Position) *logrus.Entry {
	return m.log.WithFields(logrus.Fields{
		"ticket":    p.Ticket,
		"direction": p.Direction.String(),
		"type":      p.TradeType,
	})
}

func (m *Manager) execFailure(p *Position, action string, err error) {
	if err == nil {
		err = broker.ErrExecution
	}
	m.entry(p).WithError(err).WithFields(logrus.Fields{
		"outcome": logger.OutcomeExecutionFailure,
		"action":  action,
	}).Error("broker rejected request")
}

func (m *Manager) dataWarning(p *Position, what string, err error) {
	e := m.entry(p).WithError(err).WithField("step", what)
	if errors.Is(err, market.ErrDataUnavailable) {
		e = e.WithField("outcome", logger.OutcomeDataUnavailable)
	}
	e.Warn("position step skipped")
}
