package strategy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/position"
	"github.com/rustyeddy/zonetrader/zones"
)

// SweepDirection reports the fade direction implied by bar against z:
// Short when the high ran more than reach past the upper edge and the
// close came back under it, Long for the mirror case at the lower edge.
func SweepDirection(z zones.Zone, bar market.Candle, reach float64) market.Direction {
	switch {
	case bar.High > z.Upper()+reach && bar.Close < z.Upper():
		return market.Short
	case bar.Low < z.Lower()-reach && bar.Close > z.Lower():
		return market.Long
	}
	return market.None
}

// Confirms reports whether the last two closed bars show a higher low
// for a long fade or a lower high for a short one.
func Confirms(d market.Direction, prev, last market.Candle) bool {
	switch d {
	case market.Long:
		return last.Low > prev.Low
	case market.Short:
		return last.High < prev.High
	}
	return false
}

// detectSweeps flags zones swept by the last closed execution bar.
func (o *Orchestrator) detectSweeps(ctx context.Context, atr float64) {
	bars, err := o.src.Bars(ctx, o.cfg.Symbol, o.cfg.ExecTimeframe, 0, 1)
	if err != nil {
		o.dataWarning("sweep bar", err)
		return
	}
	bar := bars[0]

	for _, z := range o.book.All() {
		if z.PendingFade {
			continue
		}
		d := SweepDirection(z, bar, o.cfg.SweepATR*atr)
		if d == market.None {
			continue
		}
		if err := o.book.MarkFadePending(z.ID, d); err != nil {
			continue
		}
		o.zoneLog(z).WithField("direction", d.String()).Info("liquidity sweep")
	}
}

// confirmFades enters pending fades confirmed on the faster timeframe.
func (o *Orchestrator) confirmFades(ctx context.Context, atr float64) {
	var pending []zones.Zone
	for _, z := range o.book.All() {
		if z.PendingFade {
			pending = append(pending, z)
		}
	}
	if len(pending) == 0 {
		return
	}

	bars, err := o.src.Bars(ctx, o.cfg.Symbol, o.cfg.ConfirmTimeframe, 0, 2)
	if err != nil {
		o.dataWarning("fade confirmation", err)
		return
	}
	prev, last := bars[0], bars[1]

	for _, z := range pending {
		d := z.FadeDirection
		if !Confirms(d, prev, last) {
			continue
		}
		if !o.macroOK(ctx, d) {
			continue
		}
		o.enterFade(ctx, z, d, atr)
	}
}

func (o *Orchestrator) enterFade(ctx context.Context, z zones.Zone, d market.Direction, atr float64) {
	tick, err := o.br.Tick(ctx, o.cfg.Symbol)
	if err != nil {
		o.dataWarning("fade tick", err)
		return
	}
	entry := tick.Entry(d)
	// A short fade stops above the upper edge, a long one below the lower.
	stop := o.stopBeyond(d, z.Edge(d.Opposite()), o.cfg.StopATR*atr, tick.Exit(d), tick.Spread())

	lots, amount, err := o.size(ctx, d, entry, stop)
	if err != nil {
		o.dataWarning("fade sizing", err)
		return
	}
	if lots == 0 {
		o.zoneLog(z).Debug("fade below minimum lot")
		return
	}

	res, err := o.br.PlaceMarketOrder(ctx, o.cfg.Symbol, d, lots, stop, o.label(TradeTypeFade))
	if err != nil || !res.Success {
		o.execFailure("fade order", err)
		return
	}
	if res.Price != 0 {
		entry = res.Price
	}

	// The zone set may have been replaced since the sweep; fall back to
	// the midpoint match.
	zoneID := z.ID
	if _, ok := o.book.Get(zoneID); !ok {
		if m, ok := o.book.FindByMid(z.Mid); ok {
			zoneID = m.ID
		}
	}
	_ = o.book.ClearFade(zoneID)
	_ = o.book.SetLastTrade(zoneID, o.now())

	o.adopt(position.Position{
		Ticket:     res.Ticket,
		Direction:  d,
		EntryPrice: entry,
		StopLoss:   stop,
		Lots:       lots,
		TradeType:  TradeTypeFade,
		OpenTime:   o.now(),
		InitialR:   amount,
	}, true)
}

func (o *Orchestrator) zoneLog(z zones.Zone) *logrus.Entry {
	return o.log.WithFields(logrus.Fields{
		"zone":     z.ID,
		"mid":      z.Mid,
		"strength": z.Strength,
	})
}
