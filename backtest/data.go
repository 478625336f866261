package backtest

import (
	"fmt"

	"github.com/rustyeddy/zonetrader/config"
	"github.com/rustyeddy/zonetrader/market"
)

// LoadStore reads the instrument's H1 CSV and, when the macro filter is
// on, the index CSVs into a new SeriesStore. Index files may hold daily
// or intraday bars; both aggregate to the same D1 series.
func LoadStore(cfg *config.Config) (*market.SeriesStore, error) {
	store := market.NewSeriesStore()

	bars, err := market.LoadCandlesCSV(cfg.Backtest.DataFile)
	if err != nil {
		return nil, fmt.Errorf("backtest: load %s: %w", cfg.Strategy.Instrument, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest: %s has no bars: %w", cfg.Backtest.DataFile, market.ErrDataUnavailable)
	}
	store.Load(cfg.Strategy.Instrument, bars)

	if !cfg.Macro.Enabled {
		return store, nil
	}
	for _, idx := range []struct{ symbol, file string }{
		{cfg.Macro.TrendSymbol, cfg.Macro.TrendFile},
		{cfg.Macro.VolSymbol, cfg.Macro.VolFile},
	} {
		if idx.symbol == "" || idx.file == "" {
			continue
		}
		bars, err := market.LoadCandlesCSV(idx.file)
		if err != nil {
			return nil, fmt.Errorf("backtest: load %s: %w", idx.symbol, err)
		}
		store.Load(idx.symbol, bars)
	}
	return store, nil
}
