package backtest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/zonetrader/config"
	"github.com/rustyeddy/zonetrader/journal"
	"github.com/rustyeddy/zonetrader/market"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatH1 returns n hourly bars at 1.1050 with a 10 pip range.
func flatH1(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Time:  t0.Add(time.Duration(i) * time.Hour),
			Open:  1.1050,
			High:  1.1055,
			Low:   1.1045,
			Close: 1.1050,
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Backtest.WarmupDays = 2
	cfg.Backtest.CloseAtEnd = true
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, n int, w Window, j journal.Journal) *Runner {
	t.Helper()
	store := market.NewSeriesStore()
	store.Load(cfg.Strategy.Instrument, flatH1(n))
	r, err := New(context.Background(), cfg, store, w, j, nil)
	require.NoError(t, err)
	return r
}

// openLong places a trade the strategy does not own, so only the engine
// and the runner act on it.
func openLong(t *testing.T, r *Runner, lots, stop float64) string {
	t.Helper()
	require.NoError(t, r.Engine.UpdatePrice(market.Tick{
		Symbol: "EUR_USD",
		Time:   r.Store.Now(),
		Bid:    1.1050,
		Ask:    1.1051,
	}))
	res, err := r.Engine.PlaceMarketOrder(context.Background(), "EUR_USD", market.Long, lots, stop, "manual")
	require.NoError(t, err)
	return res.Ticket
}

type countingJournal struct {
	journal.Nop
	trades, equity, zones int
	closed                bool
}

func (c *countingJournal) RecordTrade(journal.TradeRecord) error     { c.trades++; return nil }
func (c *countingJournal) RecordEquity(journal.EquitySnapshot) error { c.equity++; return nil }
func (c *countingJournal) RecordZone(journal.ZoneSnapshot) error     { c.zones++; return nil }
func (c *countingJournal) Close() error                              { c.closed = true; return nil }

func TestNewSkipsWarmup(t *testing.T) {
	r := newRunner(t, testConfig(), 120, Window{}, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 72, res.Bars)
	assert.Equal(t, t0.Add(48*time.Hour), res.Start)
	assert.Equal(t, t0.Add(120*time.Hour), res.End)
	assert.Equal(t, t0.Add(120*time.Hour), r.Store.Now())
	assert.Equal(t, 0, res.Trades)
	assert.InDelta(t, 100000.0, res.Balance, 1e-9)
	assert.InDelta(t, 100000.0, res.Equity, 1e-9)
	assert.Zero(t, res.MaxDDPct)
}

func TestNewWindow(t *testing.T) {
	w := Window{
		From: t0.Add(72 * time.Hour),
		To:   t0.Add(96 * time.Hour),
	}
	r := newRunner(t, testConfig(), 120, w, nil)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, res.Bars)
	assert.Equal(t, w.From, res.Start)
	assert.Equal(t, w.To, res.End)
}

func TestNewNotEnoughData(t *testing.T) {
	cfg := testConfig()

	store := market.NewSeriesStore()
	_, err := New(context.Background(), cfg, store, Window{}, nil, nil)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	store.Load(cfg.Strategy.Instrument, flatH1(24))
	_, err = New(context.Background(), cfg, store, Window{}, nil, nil)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	store.Load(cfg.Strategy.Instrument, flatH1(120))
	_, err = New(context.Background(), cfg, store, Window{To: t0.Add(24 * time.Hour)}, nil, nil)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}

func TestNewUnknownInstrument(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.Instrument = "XXX_YYY"
	store := market.NewSeriesStore()
	store.Load("XXX_YYY", flatH1(120))

	_, err := New(context.Background(), cfg, store, Window{}, nil, nil)
	assert.Error(t, err)
}

func TestRunClosesAtEnd(t *testing.T) {
	j := &countingJournal{}
	r := newRunner(t, testConfig(), 120, Window{}, j)
	ticket := openLong(t, r, 1, 1.1000)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, ticket, rec.TradeID)
	assert.Equal(t, "EndOfReplay", rec.Reason)
	assert.InDelta(t, 1.1050, rec.ExitPrice, 1e-9)
	assert.InDelta(t, -10.0, rec.RealizedPL, 1e-6)

	assert.Equal(t, 1, res.Trades)
	assert.Equal(t, 1, res.Losses)
	assert.Equal(t, 0, res.StopOuts)
	assert.InDelta(t, 99990.0, res.Balance, 1e-6)

	assert.Equal(t, 1, j.trades)
	assert.Equal(t, 74, j.equity, "opening tick, one per bar and the final close")
}

func TestRunKeepsPositionsOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Backtest.CloseAtEnd = false
	r := newRunner(t, cfg, 120, Window{}, nil)
	openLong(t, r, 1, 1.1000)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Trades)
	assert.InDelta(t, 100000.0, res.Balance, 1e-9)
	assert.InDelta(t, 99990.0, res.Equity, 1e-6)
}

func TestRunCountsStopOuts(t *testing.T) {
	r := newRunner(t, testConfig(), 120, Window{}, nil)
	openLong(t, r, 1, 1.1046)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "StopLoss", res.Records[0].Reason)
	assert.InDelta(t, 1.1046, res.Records[0].ExitPrice, 1e-9)
	assert.Equal(t, 1, res.StopOuts)
	assert.InDelta(t, 99950.0, res.Balance, 1e-6)
	assert.InDelta(t, 0.05, res.MaxDDPct, 1e-9)

	run := res.Report(testConfig())
	assert.Equal(t, 1, run.Losses)
	assert.InDelta(t, -50.0, run.NetPL, 1e-6)
	assert.Contains(t, run.Notes, "1 of 1 trades closed at their stop")
}

func TestRunCancelled(t *testing.T) {
	r := newRunner(t, testConfig(), 120, Window{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunRequiresParts(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background())
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	cfg := testConfig()
	cfg.Backtest.DataFile = "eurusd_h1.csv"
	res := Result{
		Balance: 101000,
		Start:   t0,
		End:     t0.Add(24 * time.Hour),
		Scans:   3,
		Records: []journal.TradeRecord{
			{RealizedPL: 1500},
			{RealizedPL: -500},
		},
	}
	run := res.Report(cfg)

	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, StrategyName, run.Strategy)
	assert.Equal(t, "EUR_USD", run.Instrument)
	assert.Equal(t, "eurusd_h1.csv", run.Dataset)
	assert.Equal(t, 3, run.ZoneScans)
	assert.Equal(t, 2, run.Trades)
	assert.Equal(t, 1, run.Wins)
	assert.InDelta(t, 1000.0, run.NetPL, 1e-9)
	assert.InDelta(t, 1.0, run.ReturnPct, 1e-9)
	assert.InDelta(t, 3.0, run.ProfitFactor, 1e-9)
	assert.Empty(t, run.Notes)

	var buf bytes.Buffer
	PrintBacktestRun(&buf, run)
	out := buf.String()
	assert.Contains(t, out, "Strategy:      zone-fade-retest")
	assert.Contains(t, out, "Net P/L:       1000.00")
	assert.Contains(t, out, "Profit Factor: 3.00")
}

func TestReportNoScans(t *testing.T) {
	run := Result{Balance: 100000}.Report(testConfig())
	require.Len(t, run.Notes, 1)
	assert.True(t, strings.HasPrefix(run.Notes[0], "no zone scan"))
}

func TestSliceFeed(t *testing.T) {
	bars := flatH1(10)
	f := NewSliceFeed(bars, t0.Add(2*time.Hour), t0.Add(5*time.Hour))

	var got []time.Time
	for {
		c, ok, err := f.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, c.Time)
	}
	assert.Equal(t, []time.Time{t0.Add(2 * time.Hour), t0.Add(3 * time.Hour), t0.Add(4 * time.Hour)}, got)
	assert.NoError(t, f.Close())
}

func TestRecorderForwards(t *testing.T) {
	next := &countingJournal{}
	r := NewRecorder(next)

	require.NoError(t, r.RecordTrade(journal.TradeRecord{TradeID: "a"}))
	require.NoError(t, r.RecordEquity(journal.EquitySnapshot{}))
	require.NoError(t, r.RecordZone(journal.ZoneSnapshot{}))
	r.OnTradeClosed("a", "StopLoss")
	require.NoError(t, r.Close())

	assert.Equal(t, 1, next.trades)
	assert.Equal(t, 1, next.equity)
	assert.Equal(t, 1, next.zones)
	assert.True(t, next.closed)

	assert.Equal(t, 1, r.Zones())
	assert.Equal(t, 1, r.StopOuts())
	trades := r.Trades()
	require.Len(t, trades, 1)
	trades[0].TradeID = "changed"
	assert.Equal(t, "a", r.Trades()[0].TradeID)
}

func writeCSV(t *testing.T, dir, name string, bars []market.Candle) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("time,open,high,low,close\n")
	for _, c := range bars {
		b.WriteString(c.Time.Format(time.RFC3339))
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
			b.WriteString(",")
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		b.WriteString("\n")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestLoadStore(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Backtest.DataFile = writeCSV(t, dir, "eurusd.csv", flatH1(48))

	store, err := LoadStore(cfg)
	require.NoError(t, err)
	assert.Len(t, store.Candles("EUR_USD", market.H1), 48)
	assert.Len(t, store.Candles("EUR_USD", market.H4), 12)
	assert.Len(t, store.Candles("EUR_USD", market.D1), 2)
	assert.Empty(t, store.Candles("DXY", market.D1))
}

func TestLoadStoreMacroIndexes(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Backtest.DataFile = writeCSV(t, dir, "eurusd.csv", flatH1(48))

	daily := make([]market.Candle, 5)
	for i := range daily {
		daily[i] = market.Candle{Time: t0.Add(time.Duration(i) * 24 * time.Hour), Open: 104, High: 105, Low: 103, Close: 104.5}
	}
	cfg.Macro.Enabled = true
	cfg.Macro.TrendFile = writeCSV(t, dir, "dxy.csv", daily)

	store, err := LoadStore(cfg)
	require.NoError(t, err)
	assert.Len(t, store.Candles(cfg.Macro.TrendSymbol, market.D1), 5)
	assert.Empty(t, store.Candles(cfg.Macro.VolSymbol, market.D1))

	cfg.Macro.VolFile = filepath.Join(dir, "missing.csv")
	_, err = LoadStore(cfg)
	assert.Error(t, err)
}

func TestLoadStoreErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	cfg.Backtest.DataFile = filepath.Join(dir, "missing.csv")
	_, err := LoadStore(cfg)
	assert.Error(t, err)

	cfg.Backtest.DataFile = writeCSV(t, dir, "empty.csv", nil)
	_, err = LoadStore(cfg)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}
