package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/zonetrader/config"
	"github.com/rustyeddy/zonetrader/journal"
	"github.com/rustyeddy/zonetrader/pkg/id"
)

// Result is a lightweight summary of a backtest run.
type Result struct {
	Balance float64
	Equity  float64

	Trades   int
	Wins     int
	Losses   int
	StopOuts int

	Bars     int
	Scans    int
	MaxDDPct float64

	Start time.Time
	End   time.Time

	Records []journal.TradeRecord
}

// Report turns r into a journal summary for the run configured by cfg.
func (r Result) Report(cfg *config.Config) journal.BacktestRun {
	run := journal.BacktestRun{
		RunID:          id.New(),
		Created:        time.Now().UTC(),
		Instrument:     cfg.Strategy.Instrument,
		Strategy:       StrategyName,
		Dataset:        cfg.Backtest.DataFile,
		Start:          r.Start,
		End:            r.End,
		BaseRiskPct:    cfg.Risk.BaseRiskPct,
		MaxDrawdownPct: cfg.Risk.MaxDrawdownPct,
		MaxPyramids:    cfg.Strategy.MaxPyramids,
		ZoneDepth:      cfg.Zones.Depth,
		ZoneScans:      r.Scans,
		StartBalance:   cfg.Account.Balance,
		EndBalance:     r.Balance,
		MaxDDPct:       r.MaxDDPct,
	}
	run.Summarize(r.Records)

	if r.StopOuts > 0 {
		run.Notes = append(run.Notes, fmt.Sprintf("%d of %d trades closed at their stop", r.StopOuts, r.Trades))
	}
	if r.Scans == 0 {
		run.Notes = append(run.Notes, "no zone scan completed; check the amount of daily history")
	}
	return run
}

func PrintBacktestRun(w io.Writer, r journal.BacktestRun) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Created:       %s\n", r.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Instrument:    %s\n", r.Instrument)
	fmt.Fprintf(w, "Dataset:       %s\n", r.Dataset)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Strategy Configuration")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Risk per Trade: %.2f%%\n", r.BaseRiskPct)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDrawdownPct)
	fmt.Fprintf(w, "Max Pyramids:  %d\n", r.MaxPyramids)
	fmt.Fprintf(w, "Zone Depth:    %.2f ATR\n", r.ZoneDepth)
	fmt.Fprintf(w, "Zone Scans:    %d\n", r.ZoneScans)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate*100)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %.2f\n", r.StartBalance)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", r.NetPL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)

	if r.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", r.ProfitFactor)
	}
	if r.MaxDDPct > 0 {
		fmt.Fprintf(w, "Peak-to-Valley: %.2f%%\n", r.MaxDDPct)
	}

	if len(r.Notes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Observations")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, note := range r.Notes {
			fmt.Fprintf(w, "- %s\n", note)
		}
	}

	fmt.Fprintln(w)
}
