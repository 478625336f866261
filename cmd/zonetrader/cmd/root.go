package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/zonetrader/config"
	"github.com/rustyeddy/zonetrader/logger"
)

var (
	cfgFile  string
	logLevel string

	// Loaded by the root pre-run for every command outside "config".
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zonetrader",
	Short: "Zone-based FX strategy engine and backtester",
	Long: `Zonetrader trades reactions at daily support and resistance zones.

It provides tools for:
  - Detecting the daily zone set of an instrument
  - Backtesting the sweep-fade and break-and-retest strategy on H1 data
  - Generating and validating configuration files
  - Querying the SQLite run journal

Settings come from a YAML or JSON file (--config) and ZONETRADER_*
environment variables, e.g. ZONETRADER_RISK_BASE_RISK_PCT=0.5.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults plus environment if empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd || c == versionCmd {
			return nil
		}
	}

	c, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c
	log = logger.New(c.Log)
	return nil
}
