package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/macro"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/position"
	"github.com/rustyeddy/zonetrader/risk"
	"github.com/rustyeddy/zonetrader/strategy"
	"github.com/rustyeddy/zonetrader/zones"
)

// EnvPrefix prefixes environment overrides, e.g.
// ZONETRADER_RISK_BASE_RISK_PCT=0.25.
const EnvPrefix = "ZONETRADER"

// ErrInvalidInput marks a configuration that cannot start a run.
var ErrInvalidInput = errors.New("invalid input")

// Config represents the complete run configuration
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account" mapstructure:"account"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy" mapstructure:"strategy"`
	Risk     RiskConfig     `json:"risk" yaml:"risk" mapstructure:"risk"`
	Zones    ZonesConfig    `json:"zones" yaml:"zones" mapstructure:"zones"`
	Macro    MacroConfig    `json:"macro" yaml:"macro" mapstructure:"macro"`
	Backtest BacktestConfig `json:"backtest" yaml:"backtest" mapstructure:"backtest"`
	Journal  JournalConfig  `json:"journal" yaml:"journal" mapstructure:"journal"`
	Log      logger.Config  `json:"log" yaml:"log" mapstructure:"log"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id" mapstructure:"id"`
	Currency string  `json:"currency" yaml:"currency" mapstructure:"currency"`
	Balance  float64 `json:"balance" yaml:"balance" mapstructure:"balance"`
}

// StrategyConfig contains trigger and position management parameters
type StrategyConfig struct {
	Instrument string `json:"instrument" yaml:"instrument" mapstructure:"instrument"`
	// Tag identifies the strategy's orders.
	Tag                string  `json:"tag" yaml:"tag" mapstructure:"tag"`
	MaxPyramids        int     `json:"max_pyramids" yaml:"max_pyramids" mapstructure:"max_pyramids"`
	PyramidRiskPct     float64 `json:"pyramid_risk_pct" yaml:"pyramid_risk_pct" mapstructure:"pyramid_risk_pct"`
	PartialProfitR     float64 `json:"partial_profit_r" yaml:"partial_profit_r" mapstructure:"partial_profit_r"`
	TimeStopBars       int     `json:"time_stop_bars" yaml:"time_stop_bars" mapstructure:"time_stop_bars"`
	RetestBars         int     `json:"retest_bars" yaml:"retest_bars" mapstructure:"retest_bars"`
	PendingExpiryHours int     `json:"pending_expiry_hours" yaml:"pending_expiry_hours" mapstructure:"pending_expiry_hours"`
}

// RiskConfig contains account-level risk limits, in percent
type RiskConfig struct {
	BaseRiskPct           float64 `json:"base_risk_pct" yaml:"base_risk_pct" mapstructure:"base_risk_pct"`
	MaxDrawdownPct        float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct" mapstructure:"max_drawdown_pct"`
	VaRPct                float64 `json:"var_pct" yaml:"var_pct" mapstructure:"var_pct"`
	MaxCorrelatedRiskMult float64 `json:"max_correlated_risk_mult" yaml:"max_correlated_risk_mult" mapstructure:"max_correlated_risk_mult"`
}

// ZonesConfig contains zone detection parameters
type ZonesConfig struct {
	Depth     float64 `json:"depth" yaml:"depth" mapstructure:"depth"`
	SweepBand float64 `json:"sweep_band" yaml:"sweep_band" mapstructure:"sweep_band"`
	ATRPeriod int     `json:"atr_period" yaml:"atr_period" mapstructure:"atr_period"`
}

// MacroConfig contains the direction filter settings. The CSV files feed
// the index series in a backtest.
type MacroConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	TrendSymbol string `json:"trend_symbol" yaml:"trend_symbol" mapstructure:"trend_symbol"`
	VolSymbol   string `json:"vol_symbol" yaml:"vol_symbol" mapstructure:"vol_symbol"`
	TrendFile   string `json:"trend_file,omitempty" yaml:"trend_file,omitempty" mapstructure:"trend_file"`
	VolFile     string `json:"vol_file,omitempty" yaml:"vol_file,omitempty" mapstructure:"vol_file"`
}

// BacktestConfig contains replay parameters
type BacktestConfig struct {
	// DataFile is an H1 candle CSV.
	DataFile string `json:"data_file" yaml:"data_file" mapstructure:"data_file"`
	// SpreadPips is added to the bid candles to form the ask.
	SpreadPips float64 `json:"spread_pips" yaml:"spread_pips" mapstructure:"spread_pips"`
	// WarmupDays of data are loaded before trading starts.
	WarmupDays int  `json:"warmup_days" yaml:"warmup_days" mapstructure:"warmup_days"`
	CloseAtEnd bool `json:"close_at_end" yaml:"close_at_end" mapstructure:"close_at_end"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type   string `json:"type" yaml:"type" mapstructure:"type"` // "none", "csv" or "sqlite"
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty" mapstructure:"db_path"`
}

// Default returns a runnable EUR_USD configuration.
func Default() *Config {
	pos := position.DefaultConfig()
	pol := risk.DefaultPolicy()
	return &Config{
		Account: AccountConfig{
			ID:       "backtest",
			Currency: "USD",
			Balance:  100000,
		},
		Strategy: StrategyConfig{
			Instrument:         "EUR_USD",
			Tag:                "zonetrader",
			MaxPyramids:        pos.MaxPyramids,
			PyramidRiskPct:     pos.PyramidRiskPct,
			PartialProfitR:     pos.PartialProfitR,
			TimeStopBars:       pos.TimeStopBars,
			RetestBars:         12,
			PendingExpiryHours: 48,
		},
		Risk: RiskConfig{
			BaseRiskPct:           pol.BaseRiskPct,
			MaxDrawdownPct:        pol.MaxDrawdownPct,
			VaRPct:                pol.VaRPct,
			MaxCorrelatedRiskMult: pol.MaxCorrelatedRiskMult,
		},
		Zones: ZonesConfig{
			Depth:     0.5,
			SweepBand: 0.0010,
			ATRPeriod: 14,
		},
		Macro: MacroConfig{
			Enabled:     false,
			TrendSymbol: "DXY",
			VolSymbol:   "SPX",
		},
		Backtest: BacktestConfig{
			SpreadPips: 1.0,
			WarmupDays: 210,
			CloseAtEnd: true,
		},
		Journal: JournalConfig{
			Type: "none",
		},
		Log: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadFromFile reads path (YAML or JSON by extension) over the defaults,
// applies ZONETRADER_* environment overrides and validates the result.
// An empty path loads the defaults and environment only.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Optional keys are left out of the marshalled defaults.
	for _, key := range []string{"macro.trend_file", "macro.vol_file", "journal.dir", "journal.db_path"} {
		_ = v.BindEnv(key)
	}

	// Seeding the defaults as config makes every key known to viper, so
	// environment overrides apply to keys the file leaves out.
	def, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(def)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON
// otherwise)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if configType(path) == "yaml" {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return invalid("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return invalid("account.balance must be positive")
	}

	if c.Strategy.Instrument == "" {
		return invalid("strategy.instrument is required")
	}
	if _, ok := market.Instruments[c.Strategy.Instrument]; !ok {
		return invalid("unknown instrument: %s", c.Strategy.Instrument)
	}
	if c.Strategy.Tag == "" {
		return invalid("strategy.tag is required")
	}
	if c.Strategy.MaxPyramids < 0 {
		return invalid("strategy.max_pyramids must not be negative")
	}
	if c.Strategy.PyramidRiskPct < 0 {
		return invalid("strategy.pyramid_risk_pct must not be negative")
	}
	if c.Strategy.PartialProfitR <= 0 {
		return invalid("strategy.partial_profit_r must be positive")
	}

	if c.Risk.BaseRiskPct <= 0 || c.Risk.BaseRiskPct > 10 {
		return invalid("risk.base_risk_pct must be in (0, 10]")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return invalid("risk.max_drawdown_pct must be in (0, 100]")
	}
	if c.Risk.VaRPct < 0 {
		return invalid("risk.var_pct must not be negative")
	}

	if c.Zones.Depth <= 0 {
		return invalid("zones.depth must be positive")
	}
	if c.Zones.SweepBand <= 0 {
		return invalid("zones.sweep_band must be positive")
	}

	if c.Macro.Enabled && c.Macro.TrendSymbol == "" && c.Macro.VolSymbol == "" {
		return invalid("macro filter enabled without trend_symbol or vol_symbol")
	}

	if c.Backtest.SpreadPips < 0 {
		return invalid("backtest.spread_pips must not be negative")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.Dir == "" {
			return invalid("journal.dir required for csv journal")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return invalid("journal.db_path required for sqlite journal")
		}
	default:
		return invalid("journal.type must be 'none', 'csv' or 'sqlite'")
	}
	return nil
}

// RiskPolicy maps the risk section onto the risk engine's policy.
func (c *Config) RiskPolicy() risk.Policy {
	return risk.Policy{
		AccountCurrency:       c.Account.Currency,
		BaseRiskPct:           c.Risk.BaseRiskPct,
		MaxDrawdownPct:        c.Risk.MaxDrawdownPct,
		VaRPct:                c.Risk.VaRPct,
		MaxCorrelatedRiskMult: c.Risk.MaxCorrelatedRiskMult,
	}
}

// MacroFilter maps the macro section onto the filter config.
func (c *Config) MacroFilter() macro.Config {
	return macro.Config{
		Enabled:     c.Macro.Enabled,
		TrendSymbol: c.Macro.TrendSymbol,
		VolSymbol:   c.Macro.VolSymbol,
	}
}

// StrategyConfig builds the orchestrator config for the instrument.
func (c *Config) StrategyConfig() strategy.Config {
	sc := strategy.DefaultConfig(c.Strategy.Instrument)
	sc.Tag = c.Strategy.Tag
	if c.Strategy.RetestBars > 0 {
		sc.RetestBars = c.Strategy.RetestBars
	}
	if c.Strategy.PendingExpiryHours > 0 {
		sc.PendingExpiry = time.Duration(c.Strategy.PendingExpiryHours) * time.Hour
	}
	sc.Zones = zones.Config{
		Depth:     c.Zones.Depth,
		SweepBand: c.Zones.SweepBand,
		ATRPeriod: c.Zones.ATRPeriod,
	}
	sc.Position.AccountCurrency = c.Account.Currency
	sc.Position.MaxPyramids = c.Strategy.MaxPyramids
	sc.Position.PyramidRiskPct = c.Strategy.PyramidRiskPct
	sc.Position.PartialProfitR = c.Strategy.PartialProfitR
	if c.Strategy.TimeStopBars > 0 {
		sc.Position.TimeStopBars = c.Strategy.TimeStopBars
	}
	return sc
}

// Spread converts the backtest spread to price units for the instrument.
func (c *Config) Spread() float64 {
	meta, err := market.LookupInstrument(c.Strategy.Instrument)
	if err != nil {
		return 0
	}
	return c.Backtest.SpreadPips * meta.PipSize()
}
