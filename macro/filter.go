// Package macro gates trade direction on a slow trend signal and on the
// weekly volatility regime of a reference index.
package macro

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/indicators"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
)

const (
	TrendPeriod = 20
	// VolSessions is the trailing return window of the volatility check.
	VolSessions = 60
	// WeekSessions is the length of one volatility sum.
	WeekSessions = 5
)

// Reason codes returned alongside a filter decision.
const (
	ReasonDisabled       = "DISABLED"
	ReasonPass           = "PASS"
	ReasonTrendAgainst   = "TREND_AGAINST"
	ReasonVolatilityHigh = "VOLATILITY_HIGH"
)

type Config struct {
	Enabled bool
	// TrendSymbol is the auxiliary index whose EMA slope must be rising.
	TrendSymbol string
	// VolSymbol is the reference index for the volatility regime.
	VolSymbol string
}

type Filter struct {
	src market.Source
	cfg Config
	log *logrus.Entry
}

func New(src market.Source, cfg Config, log *logger.Logger) *Filter {
	if log == nil {
		log = logger.Discard()
	}
	return &Filter{src: src, cfg: cfg, log: log.Component("macro", "")}
}

// Check reports whether direction d may be traded, with a reason code.
// Missing index data passes by default.
//
// The trend leg requires a rising slope for both directions. This mirrors
// a fixed USD-strength reading of the index and is kept as is.
func (f *Filter) Check(ctx context.Context, d market.Direction) (bool, string) {
	if f == nil || !f.cfg.Enabled {
		return true, ReasonDisabled
	}

	if ok, err := f.trendOK(ctx); err != nil {
		f.dataWarning("trend", f.cfg.TrendSymbol, err)
	} else if !ok {
		f.veto(d, ReasonTrendAgainst)
		return false, ReasonTrendAgainst
	}

	if ok, err := f.volatilityOK(ctx); err != nil {
		f.dataWarning("volatility", f.cfg.VolSymbol, err)
	} else if !ok {
		f.veto(d, ReasonVolatilityHigh)
		return false, ReasonVolatilityHigh
	}

	return true, ReasonPass
}

func (f *Filter) trendOK(ctx context.Context) (bool, error) {
	if f.cfg.TrendSymbol == "" {
		return false, fmt.Errorf("no trend symbol: %w", market.ErrDataUnavailable)
	}
	// EMA needs a seed window plus one bar for the slope.
	bars, err := market.DailyBars(ctx, f.src, f.cfg.TrendSymbol, 3*TrendPeriod)
	if err != nil {
		return false, err
	}
	slope, err := indicators.EMASlope(bars, TrendPeriod)
	if err != nil {
		return false, err
	}
	return slope > 0, nil
}

func (f *Filter) volatilityOK(ctx context.Context) (bool, error) {
	if f.cfg.VolSymbol == "" {
		return false, fmt.Errorf("no volatility symbol: %w", market.ErrDataUnavailable)
	}
	bars, err := market.DailyBars(ctx, f.src, f.cfg.VolSymbol, VolSessions+1)
	if err != nil {
		return false, err
	}
	current, median := WeeklyVolatility(indicators.Returns(bars))
	return current < median, nil
}

// WeeklyVolatility sums the absolute returns of the last WeekSessions
// sessions and returns it with the median of every overlapping
// WeekSessions sum in returns.
func WeeklyVolatility(returns []float64) (current, median float64) {
	if len(returns) < WeekSessions {
		return 0, 0
	}
	sums := make([]float64, 0, len(returns)-WeekSessions+1)
	for i := 0; i+WeekSessions <= len(returns); i++ {
		s := 0.0
		for _, r := range returns[i : i+WeekSessions] {
			s += math.Abs(r)
		}
		sums = append(sums, s)
	}
	return sums[len(sums)-1], indicators.Median(sums)
}

func (f *Filter) dataWarning(check, symbol string, err error) {
	entry := f.log.WithFields(logrus.Fields{
		"check":  check,
		"index":  symbol,
		"result": "pass",
	}).WithError(err)
	if errors.Is(err, market.ErrDataUnavailable) {
		entry.WithField("outcome", logger.OutcomeDataUnavailable).Warn("macro data missing, passing by default")
		return
	}
	entry.Warn("macro check failed, passing by default")
}

func (f *Filter) veto(d market.Direction, code string) {
	f.log.WithFields(logrus.Fields{
		"outcome":   logger.OutcomeVeto,
		"code":      code,
		"direction": d.String(),
	}).Info("macro filter veto")
}
