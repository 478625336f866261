package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/zonetrader/backtest"
	"github.com/rustyeddy/zonetrader/zones"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Detect the daily zone set of an H1 candle CSV",
	Long: `Run one zone detection pass over the daily bars built from an H1
candle CSV and print the zones, strongest first.

Examples:
  zonetrader zones -d eurusd_h1.csv
  zonetrader zones -d eurusd_h1.csv --at 2024-03-01 -o yaml`,
	Args: cobra.NoArgs,
	RunE: runZones,
}

var (
	zonesData   string
	zonesAt     string
	zonesOutput string
)

func init() {
	rootCmd.AddCommand(zonesCmd)

	zonesCmd.Flags().StringVarP(&zonesData, "data", "d", "", "H1 candle CSV (overrides backtest.data_file)")
	zonesCmd.Flags().StringVar(&zonesAt, "at", "", "detect as of this day, YYYY-MM-DD (UTC); default uses every bar")
	zonesCmd.Flags().StringVarP(&zonesOutput, "output", "o", "table", "output format: table or yaml")
}

type zoneView struct {
	ID       string  `yaml:"id"`
	Mid      float64 `yaml:"mid"`
	Lower    float64 `yaml:"lower"`
	Upper    float64 `yaml:"upper"`
	Width    float64 `yaml:"width"`
	Strength int     `yaml:"strength"`
}

func runZones(cmd *cobra.Command, args []string) error {
	if zonesData != "" {
		cfg.Backtest.DataFile = zonesData
	}
	if cfg.Backtest.DataFile == "" {
		return errors.New("no data: set backtest.data_file or pass --data")
	}
	if zonesOutput != "table" && zonesOutput != "yaml" {
		return fmt.Errorf("unknown output %q: want table or yaml", zonesOutput)
	}

	store, err := backtest.LoadStore(cfg)
	if err != nil {
		return err
	}
	if zonesAt != "" {
		at, err := parseDay(zonesAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		store.SetNow(at)
	}

	sym := cfg.Strategy.Instrument
	det, err := zones.NewDetector(store, sym, cfg.StrategyConfig().Zones, zones.NewBook(), log)
	if err != nil {
		return err
	}
	zs, err := det.Scan(context.Background())
	if err != nil {
		return fmt.Errorf("detect zones: %w", err)
	}

	views := make([]zoneView, len(zs))
	for i, z := range zs {
		views[i] = zoneView{
			ID:       z.ID,
			Mid:      z.Mid,
			Lower:    z.Lower(),
			Upper:    z.Upper(),
			Width:    z.Width,
			Strength: z.Strength,
		}
	}

	out := cmd.OutOrStdout()
	if zonesOutput == "yaml" {
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(map[string]any{
			"instrument": sym,
			"zones":      views,
		})
	}
	return printZones(out, sym, views)
}

func printZones(w io.Writer, symbol string, views []zoneView) error {
	fmt.Fprintf(w, "%s: %d zones\n\n", symbol, len(views))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLOWER\tMID\tUPPER\tSTRENGTH\tID")
	for i, v := range views {
		fmt.Fprintf(tw, "%d\t%.5f\t%.5f\t%.5f\t%d\t%s\n", i+1, v.Lower, v.Mid, v.Upper, v.Strength, v.ID)
	}
	return tw.Flush()
}
