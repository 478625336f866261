package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/zonetrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the SQLite run journal",
	Long: `Query trades, zones and backtest summaries recorded in a SQLite journal.

Subcommands:
  trades - List trades closed in a date range
  zones  - List zone snapshots of an instrument
  run    - Print a backtest summary as an org-mode report

Examples:
  zonetrader journal trades --db runs.sqlite --from 2024-01-01 --to 2024-02-01
  zonetrader journal zones --db runs.sqlite
  zonetrader journal run <run-id> --db runs.sqlite`,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List trades closed in a date range",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalZonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "List zone snapshots of an instrument",
	Args:  cobra.NoArgs,
	RunE:  runJournalZones,
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Print a backtest summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRun,
}

var (
	journalDBPath string
	journalFrom   string
	journalTo     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradesCmd)
	journalCmd.AddCommand(journalZonesCmd)
	journalCmd.AddCommand(journalRunCmd)

	journalCmd.PersistentFlags().StringVar(&journalDBPath, "db", "", "path to SQLite journal DB (default journal.db_path)")
	journalTradesCmd.Flags().StringVar(&journalFrom, "from", "", "first close day, YYYY-MM-DD (UTC); default all")
	journalTradesCmd.Flags().StringVar(&journalTo, "to", "", "end day, exclusive, YYYY-MM-DD (UTC); default now")
}

func openDB() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, fmt.Errorf("no journal: pass --db or set journal.db_path")
	}
	db, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()
	if journalFrom != "" {
		if start, err = parseDay(journalFrom); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if journalTo != "" {
		if end, err = parseDay(journalTo); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}

	recs, err := db.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	return printTrades(cmd.OutOrStdout(), recs)
}

func printTrades(w io.Writer, recs []journal.TradeRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLOSED\tINSTRUMENT\tDIR\tTYPE\tLOTS\tENTRY\tEXIT\tP/L\tREASON")
	var total float64
	for _, r := range recs {
		total += r.RealizedPL
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%.5f\t%.5f\t%.2f\t%s\n",
			r.CloseTime.Format("2006-01-02 15:04"), r.Instrument, r.Direction, r.TradeType,
			r.Lots, r.EntryPrice, r.ExitPrice, r.RealizedPL, r.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d trades, net %.2f\n", len(recs), total)
	return nil
}

func runJournalZones(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	zs, err := db.ListZones(cfg.Strategy.Instrument)
	if err != nil {
		return fmt.Errorf("query zones: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCANNED\tMID\tWIDTH\tSTRENGTH\tID")
	for _, z := range zs {
		fmt.Fprintf(tw, "%s\t%.5f\t%.5f\t%d\t%s\n",
			z.Time.Format("2006-01-02 15:04"), z.Mid, z.Width, z.Strength, z.ZoneID)
	}
	return tw.Flush()
}

func runJournalRun(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.GetBacktestRun(context.Background(), args[0])
	if err != nil {
		return err
	}
	return run.WriteOrg(cmd.OutOrStdout())
}
