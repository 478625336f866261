package journal

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacktestRunSummarize(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r := BacktestRun{StartBalance: 10000, EndBalance: 10150}

	r.Summarize([]TradeRecord{
		sampleTrade("a", at, 100),
		sampleTrade("b", at, 100),
		sampleTrade("c", at, -50),
		sampleTrade("d", at, 0),
	})

	assert.Equal(t, 4, r.Trades)
	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 150.0, r.NetPL, 1e-9)
	assert.InDelta(t, 1.5, r.ReturnPct, 1e-9)
	assert.InDelta(t, 0.5, r.WinRate, 1e-9)
	assert.InDelta(t, 4.0, r.ProfitFactor, 1e-9)
}

func TestBacktestRunWriteOrg(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := BacktestRun{
		RunID:      "R1",
		Strategy:   "zones",
		Instrument: "EUR_USD",
		Start:      start,
		End:        start.AddDate(0, 1, 0),
		Trades:     2,
		Notes:      []string{"quiet month"},
	}

	var buf bytes.Buffer
	require.NoError(t, r.WriteOrg(&buf))

	out := buf.String()
	assert.Contains(t, out, "* BACKTEST: zones EUR_USD")
	assert.Contains(t, out, ":RUN_ID:      R1")
	assert.Contains(t, out, "(profit-factor?)")
	assert.Contains(t, out, "- quiet month")
}
