package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{tradesHeader}, readCSV(t, filepath.Join(dir, "trades.csv")))
	assert.Equal(t, [][]string{equityHeader}, readCSV(t, filepath.Join(dir, "equity.csv")))
	assert.Equal(t, [][]string{zonesHeader}, readCSV(t, filepath.Join(dir, "zones.csv")))
}

func TestCSVJournalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 4, 5, 6, 0, time.UTC)
	require.NoError(t, j.RecordTrade(sampleTrade("T1", at, -12.5)))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: at, Balance: 1000, Equity: 990.5, OpenPositions: 1}))
	require.NoError(t, j.RecordZone(ZoneSnapshot{Time: at, Instrument: "EUR_USD", ZoneID: "z1", Mid: 1.1, Width: 0.004, Strength: 7}))
	require.NoError(t, j.Close())

	trades := readCSV(t, filepath.Join(dir, "trades.csv"))
	require.Len(t, trades, 2)
	assert.Equal(t, []string{
		"T1", "EUR_USD", "long", "fade", "0.250000", "1.100000", "1.101000",
		"2024-01-02T00:05:06Z", "2024-01-02T04:05:06Z", "-12.500000", "StopLoss",
	}, trades[1])

	equity := readCSV(t, filepath.Join(dir, "equity.csv"))
	require.Len(t, equity, 2)
	assert.Equal(t, []string{"2024-01-02T04:05:06Z", "1000.000000", "990.500000", "1"}, equity[1])

	zones := readCSV(t, filepath.Join(dir, "zones.csv"))
	require.Len(t, zones, 2)
	assert.Equal(t, "7", zones[1][5])
}

func TestNopJournal(t *testing.T) {
	var j Journal = Nop{}
	assert.NoError(t, j.RecordTrade(TradeRecord{}))
	assert.NoError(t, j.RecordEquity(EquitySnapshot{}))
	assert.NoError(t, j.RecordZone(ZoneSnapshot{}))
	assert.NoError(t, j.Close())
}
