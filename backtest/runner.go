// Package backtest replays H1 bars through the simulated broker and the
// zone strategy and summarizes the run.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/config"
	"github.com/rustyeddy/zonetrader/journal"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/macro"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/risk"
	"github.com/rustyeddy/zonetrader/sim"
	"github.com/rustyeddy/zonetrader/strategy"
)

// StrategyName identifies the zone strategy in reports.
const StrategyName = "zone-fade-retest"

// RunnerOptions controls how the backtest runner behaves.
type RunnerOptions struct {
	Symbol string
	// Spread is added to every bar to form the ask, in price units.
	Spread float64

	// If true, close all open positions at the end of the dataset.
	// Close reason will be CloseReason (or "EndOfReplay" if empty).
	CloseEnd    bool
	CloseReason string
}

// Runner drives the simulated broker and the strategy bar by bar. The
// store's clock is moved to each bar's close before anything reads it.
type Runner struct {
	Engine   *sim.Engine
	Store    *market.SeriesStore
	Feed     BarFeed
	Strategy *strategy.Orchestrator
	Recorder *Recorder
	Options  RunnerOptions

	log *logrus.Entry
}

// Window limits the replayed bars by open time. Zero bounds are open.
type Window struct {
	From time.Time
	To   time.Time
}

// New wires a Runner for cfg over the bars already loaded in store. The
// first cfg.Backtest.WarmupDays of H1 data are only history: replay
// starts at the first bar after them, or at w.From if that is later.
func New(ctx context.Context, cfg *config.Config, store *market.SeriesStore, w Window, j journal.Journal, log *logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.Discard()
	}
	sym := cfg.Strategy.Instrument

	bars := store.Candles(sym, market.H1)
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest: no H1 bars for %s: %w", sym, market.ErrDataUnavailable)
	}
	warmEnd := bars[0].Time.Add(time.Duration(cfg.Backtest.WarmupDays) * 24 * time.Hour)
	if w.From.After(warmEnd) {
		warmEnd = w.From
	}
	start := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(warmEnd) })
	if start >= len(bars) || (!w.To.IsZero() && !bars[start].Time.Before(w.To)) {
		return nil, fmt.Errorf("backtest: %s data ends before replay start %s: %w",
			sym, warmEnd.Format(time.RFC3339), market.ErrDataUnavailable)
	}

	rec := NewRecorder(j)
	engine := sim.NewEngine(sim.Account{
		ID:       cfg.Account.ID,
		Currency: cfg.Account.Currency,
		Balance:  cfg.Account.Balance,
	}, rec, log)
	engine.SetTradeClosedListener(rec)

	store.SetNow(bars[start].Time)

	rk, err := risk.NewEngine(ctx, engine, sym, cfg.RiskPolicy(), store.Now, log)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	var filter *macro.Filter
	if cfg.Macro.Enabled {
		filter = macro.New(store, cfg.MacroFilter(), log)
	}

	strat, err := strategy.New(cfg.StrategyConfig(), strategy.Deps{
		Broker:  engine,
		Source:  store,
		Risk:    rk,
		Macro:   filter,
		Journal: rec,
		Now:     store.Now,
		Log:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	return &Runner{
		Engine:   engine,
		Store:    store,
		Feed:     NewSliceFeed(bars[start:], time.Time{}, w.To),
		Strategy: strat,
		Recorder: rec,
		Options: RunnerOptions{
			Symbol:   sym,
			Spread:   cfg.Spread(),
			CloseEnd: cfg.Backtest.CloseAtEnd,
		},
		log: log.Component("backtest", sym),
	}, nil
}

// Run executes the backtest loop. For every bar:
//  1. move the store clock to the bar's close
//  2. engine.UpdateBar (stops, limit fills, new tick)
//  3. strategy.OnTimer then strategy.OnTick
//
// The strategy is started on the first bar.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Engine == nil {
		return Result{}, errors.New("backtest: Engine is required")
	}
	if r.Store == nil || r.Feed == nil {
		return Result{}, errors.New("backtest: Store and Feed are required")
	}
	if r.Strategy == nil {
		return Result{}, errors.New("backtest: Strategy is required")
	}
	if r.Recorder == nil {
		return Result{}, errors.New("backtest: Recorder is required")
	}
	defer r.Feed.Close()

	var res Result
	peak := r.Engine.Account().Equity
	step := market.H1.Duration()

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		c, ok, err := r.Feed.Next()
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}

		closeTime := c.Time.Add(step)
		r.Store.SetNow(closeTime)
		if err := r.Engine.UpdateBar(r.Options.Symbol, c, r.Options.Spread, closeTime); err != nil {
			return Result{}, err
		}

		if res.Bars == 0 {
			res.Start = c.Time
			r.Strategy.Start(ctx)
		}
		res.End = closeTime
		res.Bars++

		r.Strategy.OnTimer(ctx)
		r.Strategy.OnTick(ctx)

		eq := r.Engine.Account().Equity
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak * 100; dd > res.MaxDDPct {
				res.MaxDDPct = dd
			}
		}
	}

	if r.Options.CloseEnd {
		reason := r.Options.CloseReason
		if reason == "" {
			reason = "EndOfReplay"
		}
		if err := r.Engine.CloseAll(ctx, reason); err != nil {
			r.log.WithError(err).Warn("close at end of replay")
		}
	}

	acct := r.Engine.Account()
	res.Balance = acct.Balance
	res.Equity = acct.Equity
	res.Records = r.Recorder.Trades()
	res.StopOuts = r.Recorder.StopOuts()
	res.Scans = r.Strategy.Scans()
	for _, t := range res.Records {
		switch {
		case t.RealizedPL > 0:
			res.Wins++
		case t.RealizedPL < 0:
			res.Losses++
		}
	}
	res.Trades = len(res.Records)

	r.log.WithFields(logrus.Fields{
		"bars":    res.Bars,
		"trades":  res.Trades,
		"balance": res.Balance,
	}).Info("backtest finished")
	return res, nil
}
