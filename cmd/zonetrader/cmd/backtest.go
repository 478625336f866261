package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/zonetrader/backtest"
	"github.com/rustyeddy/zonetrader/config"
	"github.com/rustyeddy/zonetrader/journal"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay H1 candles through the zone strategy",
	Long: `Run the zone strategy over an H1 candle CSV with the simulated broker.

The first backtest.warmup_days of data are history only. With the macro
filter enabled, macro.trend_file and macro.vol_file supply the index series.

Examples:
  zonetrader backtest --config zonetrader.yaml
  zonetrader backtest -d eurusd_h1.csv --from 2023-01-01 --to 2024-01-01 --org run.org
  zonetrader backtest -d eurusd_h1.csv --journal sqlite --db runs.sqlite`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

var (
	btData    string
	btFrom    string
	btTo      string
	btOrg     string
	btJournal string
	btDB      string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btData, "data", "d", "", "H1 candle CSV (overrides backtest.data_file)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "first bar to trade, YYYY-MM-DD (UTC)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "stop before this day, YYYY-MM-DD (UTC)")
	backtestCmd.Flags().StringVar(&btOrg, "org", "", "write an org-mode report to this path")
	backtestCmd.Flags().StringVar(&btJournal, "journal", "", "journal type: none, csv or sqlite (overrides journal.type)")
	backtestCmd.Flags().StringVar(&btDB, "db", "", "SQLite journal path (overrides journal.db_path)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	if btData != "" {
		cfg.Backtest.DataFile = btData
	}
	if btJournal != "" {
		cfg.Journal.Type = btJournal
	}
	if btDB != "" {
		cfg.Journal.DBPath = btDB
	}
	if cfg.Backtest.DataFile == "" {
		return errors.New("no data: set backtest.data_file or pass --data")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	w, err := parseWindow(btFrom, btTo)
	if err != nil {
		return err
	}

	store, err := backtest.LoadStore(cfg)
	if err != nil {
		return err
	}

	j, db, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := backtest.New(ctx, cfg, store, w, j, log)
	if err != nil {
		return err
	}
	res, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	run := res.Report(cfg)
	out := cmd.OutOrStdout()
	backtest.PrintBacktestRun(out, run)

	if db != nil {
		if err := db.RecordBacktest(ctx, run); err != nil {
			return fmt.Errorf("record backtest: %w", err)
		}
		fmt.Fprintf(out, "Journal:       %s (run %s)\n", cfg.Journal.DBPath, run.RunID)
	}
	if btOrg != "" {
		if err := writeOrg(btOrg, run); err != nil {
			return err
		}
		fmt.Fprintf(out, "Org Report:    %s\n", btOrg)
	}
	return nil
}

// openJournal opens the configured journal. db is non-nil only for the
// SQLite journal, which also stores run summaries.
func openJournal(c *config.Config) (j journal.Journal, db *journal.SQLite, err error) {
	switch c.Journal.Type {
	case "csv":
		j, err = journal.NewCSV(c.Journal.Dir)
	case "sqlite":
		db, err = journal.NewSQLite(c.Journal.DBPath)
		j = db
	default:
		j = journal.Nop{}
	}
	if err != nil {
		return nil, nil, err
	}
	return j, db, nil
}

func writeOrg(path string, run journal.BacktestRun) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := run.WriteOrg(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write org report: %w", err)
	}
	return f.Close()
}

func parseWindow(from, to string) (backtest.Window, error) {
	var w backtest.Window
	var err error
	if from != "" {
		if w.From, err = parseDay(from); err != nil {
			return w, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if w.To, err = parseDay(to); err != nil {
			return w, fmt.Errorf("--to: %w", err)
		}
	}
	if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
		return w, fmt.Errorf("--from %s is not before --to %s", from, to)
	}
	return w, nil
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
