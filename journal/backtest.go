package journal

import (
	"io"
	"text/template"
	"time"
)

// BacktestRun summarizes one backtest.
type BacktestRun struct {
	RunID      string
	Created    time.Time
	Instrument string
	Strategy   string
	Dataset    string

	Start time.Time
	End   time.Time

	// Settings worth reading next to the results.
	BaseRiskPct    float64
	MaxDrawdownPct float64
	MaxPyramids    int
	ZoneDepth      float64

	Trades    int
	Wins      int
	Losses    int
	ZoneScans int

	StartBalance float64
	EndBalance   float64

	NetPL        float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64

	Notes []string
}

// Summarize fills the trade statistics of r from closed trades.
func (r *BacktestRun) Summarize(trades []TradeRecord) {
	var grossProfit, grossLoss float64
	r.Trades, r.Wins, r.Losses = len(trades), 0, 0
	for _, t := range trades {
		switch {
		case t.RealizedPL > 0:
			r.Wins++
			grossProfit += t.RealizedPL
		case t.RealizedPL < 0:
			r.Losses++
			grossLoss -= t.RealizedPL
		}
	}

	r.NetPL = r.EndBalance - r.StartBalance
	if r.StartBalance > 0 {
		r.ReturnPct = r.NetPL / r.StartBalance * 100
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	}
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// WriteOrg renders r as an org-mode report.
func (r *BacktestRun) WriteOrg(w io.Writer) error {
	return backtestOrg.Execute(w, r)
}

const BacktestOrgTemplate = `* BACKTEST: {{.Strategy}} {{.Instrument}}
:PROPERTIES:
:RUN_ID:      {{.RunID}}
:DATASET:     {{.Dataset}}
:START:       {{.Start.Format "2006-01-02 15:04"}}
:END:         {{.End.Format "2006-01-02 15:04"}}
:START_BAL:   {{printf "%.2f" .StartBalance}}
:END_BAL:     {{printf "%.2f" .EndBalance}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" .WinRate}}
:PROFIT_FAC:  {{if ne .ProfitFactor 0.0}}{{printf "%.2f" .ProfitFactor}}{{else}}(profit-factor?){{end}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Strategy Parameters
| Parameter        | Value |
|------------------+-------|
| Base risk %      | {{printf "%.2f" .BaseRiskPct}} |
| Max drawdown %   | {{printf "%.2f" .MaxDrawdownPct}} |
| Max pyramids     | {{.MaxPyramids}} |
| Zone depth (ATR) | {{printf "%.2f" .ZoneDepth}} |
| Zone scans       | {{.ZoneScans}} |

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPL}}*
- Return:           *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:     *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*
- Profit Factor:    *{{if ne .ProfitFactor 0.0}}{{printf "%.2f" .ProfitFactor}}{{else}}(profit-factor?){{end}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
