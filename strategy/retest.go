package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/broker"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/position"
	"github.com/rustyeddy/zonetrader/zones"
)

// BreakDirection reports which way close broke z: Long when it settled
// more than clearance above the upper edge, Short when more than
// clearance below the lower edge.
func BreakDirection(z zones.Zone, close, clearance float64) market.Direction {
	switch {
	case close > z.Upper()+clearance:
		return market.Long
	case close < z.Lower()-clearance:
		return market.Short
	}
	return market.None
}

// IsInsideBar reports whether last's range lies within prev's.
func IsInsideBar(prev, last market.Candle) bool {
	return prev.Contains(last)
}

// ReentersFromBreakSide reports whether price is back inside z after
// prevClose settled beyond the edge z was broken through in d.
func ReentersFromBreakSide(z zones.Zone, d market.Direction, prevClose, price float64) bool {
	if d == market.None || !z.Contains(price) {
		return false
	}
	return d.Sign()*(prevClose-z.Edge(d)) > 0
}

// detectBreaks records new zone breaks on the last closed execution bar,
// subject to the per-zone cooldown and the rolling-hour and per-pass
// throttles.
func (o *Orchestrator) detectBreaks(ctx context.Context, atr float64) {
	bars, err := o.src.Bars(ctx, o.cfg.Symbol, o.cfg.ExecTimeframe, 0, 1)
	if err != nil {
		o.dataWarning("break bar", err)
		return
	}
	closePrice := bars[0].Close
	now := o.now()
	o.pruneBreaks(now)

	detected := 0
	for _, z := range o.book.All() {
		if detected >= o.cfg.MaxBreaksPerPass {
			break
		}
		d := BreakDirection(z, closePrice, o.cfg.BreakATR*atr)
		if d == market.None || d == z.BreakDirection {
			continue
		}
		if !z.BreakTime.IsZero() && now.Sub(z.BreakTime) < o.cfg.BreakCooldown {
			continue
		}
		if len(o.breakTimes) >= o.cfg.MaxBreaksPerHour {
			o.zoneLog(z).Debug("break throttled")
			break
		}
		if err := o.book.RecordBreak(z.ID, d, now); err != nil {
			continue
		}
		o.breakTimes = append(o.breakTimes, now)
		detected++
		o.zoneLog(z).WithField("direction", d.String()).Info("zone break")
	}
}

func (o *Orchestrator) pruneBreaks(now time.Time) {
	kept := o.breakTimes[:0]
	for _, t := range o.breakTimes {
		if now.Sub(t) < time.Hour {
			kept = append(kept, t)
		}
	}
	o.breakTimes = kept
}

// checkRetests places a limit order for every recent break whose zone
// price has come back into from the break side, with an inside bar on
// the faster timeframe.
func (o *Orchestrator) checkRetests(ctx context.Context, atr float64) {
	now := o.now()
	window := time.Duration(o.cfg.RetestBars) * o.cfg.ExecTimeframe.Duration()

	var live []zones.Zone
	for _, z := range o.book.All() {
		if z.BreakTime.IsZero() || z.BreakDirection == market.None {
			continue
		}
		if now.Sub(z.BreakTime) > window {
			continue
		}
		live = append(live, z)
	}
	if len(live) == 0 {
		return
	}

	tick, err := o.br.Tick(ctx, o.cfg.Symbol)
	if err != nil {
		o.dataWarning("retest tick", err)
		return
	}
	bars, err := o.src.Bars(ctx, o.cfg.Symbol, o.cfg.ConfirmTimeframe, 0, 2)
	if err != nil {
		o.dataWarning("retest bars", err)
		return
	}
	if !IsInsideBar(bars[0], bars[1]) {
		return
	}

	prevClose := bars[1].Close
	for _, z := range live {
		d := z.BreakDirection
		if !ReentersFromBreakSide(z, d, prevClose, tick.Mid()) {
			continue
		}
		if !o.macroOK(ctx, d) {
			continue
		}
		o.placeRetest(ctx, z, d, atr, tick)
	}
}

func (o *Orchestrator) placeRetest(ctx context.Context, z zones.Zone, d market.Direction, atr float64, tick market.Tick) {
	price := z.Edge(d)
	stop := o.stopBeyond(d, z.Edge(d.Opposite()), o.cfg.StopATR*atr, price, tick.Spread())

	lots, amount, err := o.size(ctx, d, price, stop)
	if err != nil {
		o.dataWarning("retest sizing", err)
		return
	}
	if lots == 0 {
		o.zoneLog(z).Debug("retest below minimum lot")
		return
	}

	res, err := o.br.PlaceLimitOrder(ctx, o.cfg.Symbol, d, price, lots, stop, o.label(TradeTypeRetest))
	if err != nil || !res.Success {
		o.execFailure("retest order", err)
		return
	}

	_ = o.book.ClearBreakTime(z.ID)
	_ = o.book.SetLastTrade(z.ID, o.now())
	o.risk.RegisterPendingOrder(res.Ticket, amount)
	o.pending[res.Ticket] = &pendingOrder{
		zoneID: z.ID,
		risk:   amount,
		placed: o.now(),
	}

	o.zoneLog(z).WithFields(logrus.Fields{
		"ticket":    res.Ticket,
		"direction": d.String(),
		"price":     price,
		"stop":      stop,
		"lots":      lots,
	}).Info("retest order placed")
}

// syncPending settles resting retest orders: fills are adopted by the
// position manager, stale orders are cancelled and orders the broker
// dropped release their risk reservation.
func (o *Orchestrator) syncPending(ctx context.Context) {
	if len(o.pending) == 0 {
		return
	}
	orders, err := o.br.PendingOrders(ctx, o.cfg.Symbol)
	if err != nil {
		o.dataWarning("pending orders", err)
		return
	}
	positions, err := o.br.OpenPositions(ctx, o.cfg.Symbol)
	if err != nil {
		o.dataWarning("open positions", err)
		return
	}
	resting := make(map[string]bool, len(orders))
	for _, ord := range orders {
		resting[ord.Ticket] = true
	}

	now := o.now()
	for ticket, po := range o.pending {
		log := o.log.WithFields(logrus.Fields{"ticket": ticket, "zone": po.zoneID})

		if resting[ticket] {
			if now.Sub(po.placed) < o.cfg.PendingExpiry {
				continue
			}
			if err := o.br.CancelOrder(ctx, ticket); err != nil {
				o.execFailure("cancel stale order", err)
				continue
			}
			o.risk.ReleasePendingOrder(ticket)
			delete(o.pending, ticket)
			log.WithField("outcome", logger.OutcomeOK).Info("stale retest order cancelled")
			continue
		}

		delete(o.pending, ticket)
		snap, filled := broker.Find(positions, ticket)
		if !filled {
			o.risk.ReleasePendingOrder(ticket)
			log.Info("retest order gone unfilled")
			continue
		}

		o.risk.PromotePendingOrder(ticket)
		openTime := snap.OpenTime
		if openTime.IsZero() {
			openTime = now
		}
		o.adopt(position.Position{
			Ticket:     ticket,
			Direction:  snap.Direction,
			EntryPrice: snap.EntryPrice,
			StopLoss:   snap.StopLoss,
			Lots:       snap.Lots,
			TradeType:  TradeTypeRetest,
			OpenTime:   openTime,
			InitialR:   po.risk,
			Profit:     snap.Profit,
		}, false)
	}
}
