package zones

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	daily []market.Candle
	err   error
}

func (f *fakeSource) Bars(_ context.Context, symbol string, tf market.Timeframe, shift, count int) ([]market.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if tf != market.D1 || len(f.daily)-shift < count {
		return nil, fmt.Errorf("%s: %w", symbol, market.ErrDataUnavailable)
	}
	end := len(f.daily) - shift
	return f.daily[end-count : end], nil
}

// flatDays builds n daily bars closing at 50 with a one point range, then
// raises the high of the bars listed in spikes.
func flatDays(n int, spikes map[int]float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Open: 50, High: 50.5, Low: 49.5, Close: 50,
			Time: day0.AddDate(0, 0, i),
		}
		if h, ok := spikes[i]; ok {
			out[i].High = h
		}
	}
	return out
}

func TestClusterScenario(t *testing.T) {
	atr, depth := 10.0, 0.5
	pivots := []Pivot{{Price: 100, High: true}, {Price: 102}, {Price: 150, High: true}}

	zs := Cluster(pivots, atr*depth)

	require.Len(t, zs, 1)
	assert.InDelta(t, 101.0, zs[0].Mid, 1e-9)
	assert.InDelta(t, 5.0, zs[0].Width, 1e-9)
	assert.InDelta(t, 103.5, zs[0].Upper(), 1e-9)
	assert.InDelta(t, 98.5, zs[0].Lower(), 1e-9)
}

func TestClusterSingletonYieldsNothing(t *testing.T) {
	assert.Empty(t, Cluster([]Pivot{{Price: 150}}, 5))
	assert.Empty(t, Cluster([]Pivot{{Price: 100}, {Price: 120}, {Price: 140}}, 5))
}

func TestClusterMeanOfMembers(t *testing.T) {
	pivots := []Pivot{{Price: 10}, {Price: 11}, {Price: 12}, {Price: 30}, {Price: 31}}

	zs := Cluster(pivots, 2)

	require.Len(t, zs, 2)
	assert.InDelta(t, 11.0, zs[0].Mid, 1e-9)
	assert.InDelta(t, 30.5, zs[1].Mid, 1e-9)
}

func TestFindPivots(t *testing.T) {
	highs := []float64{1, 2, 5, 2, 1, 2, 3, 2, 1}
	bars := make([]market.Candle, len(highs))
	for i, h := range highs {
		bars[i] = market.Candle{High: h, Low: h - 1, Close: h - 0.5, Time: day0.AddDate(0, 0, i)}
	}

	ps := FindPivots(bars)

	require.Len(t, ps, 3)
	assert.Equal(t, Pivot{Price: 5, High: true, Time: bars[2].Time}, ps[0])
	assert.Equal(t, Pivot{Price: 0, High: false, Time: bars[4].Time}, ps[1])
	assert.Equal(t, Pivot{Price: 3, High: true, Time: bars[6].Time}, ps[2])
}

func TestFindPivotsNeedsStrictHigh(t *testing.T) {
	bars := flatDays(10, map[int]float64{4: 60, 5: 60})
	assert.Empty(t, FindPivots(bars), "equal neighbouring highs are not pivots")
}

func TestFindPivotsCap(t *testing.T) {
	spikes := map[int]float64{}
	for i := 2; i < 600; i += 3 {
		spikes[i] = 60
	}
	ps := FindPivots(flatDays(603, spikes))
	assert.Len(t, ps, MaxPivots)
}

func TestSweepsAndStrength(t *testing.T) {
	closes := []float64{99, 100, 101, 100, 99}
	bars := make([]market.Candle, len(closes))
	for i, c := range closes {
		bars[i] = market.Candle{Close: c, Time: day0.AddDate(0, 0, i)}
	}

	assert.Equal(t, 4, Sweeps(100, bars, 0.5))
	assert.Equal(t, 0, Sweeps(200, bars, 0.5))

	asOf := day0.AddDate(0, 0, 11)
	// 4² × ln(11) = 38.36
	assert.Equal(t, 38, Strength(100, bars, 0.5, asOf))
	assert.Equal(t, 1, Strength(200, bars, 0.5, asOf), "floored at 1")
	assert.Equal(t, 1, Strength(100, bars, 0.5, day0), "age below a day")
}

func TestDetectZonesKeepsStrongestEight(t *testing.T) {
	spikes := map[int]float64{}
	day := 3
	for level := 60.0; level < 180; level += 10 {
		spikes[day] = level
		spikes[day+5] = level
		day += 10
	}
	bars := flatDays(HistoryBars, spikes)
	// make the 60 and 70 levels swept by closes
	bars[150].Close, bars[151].Close, bars[152].Close = 60, 70, 50

	zs := DetectZones(bars, 1, 1, 0.001)

	require.Len(t, zs, MaxZones)
	for i := 1; i < len(zs); i++ {
		assert.GreaterOrEqual(t, zs[i-1].Strength, zs[i].Strength)
	}
	assert.InDelta(t, 60.0, zs[0].Mid, 1e-9)
	assert.InDelta(t, 70.0, zs[1].Mid, 1e-9)
	assert.Greater(t, zs[1].Strength, zs[2].Strength)

	ids := map[string]bool{}
	for _, z := range zs {
		assert.NotEmpty(t, z.ID)
		ids[z.ID] = true
	}
	assert.Len(t, ids, MaxZones)
}

func TestDetectorScan(t *testing.T) {
	bars := flatDays(HistoryBars, map[int]float64{20: 60, 40: 60.2, 100: 80})
	book := NewBook()
	d, err := NewDetector(&fakeSource{daily: bars}, "EUR_USD",
		Config{Depth: 0.5, SweepBand: 0.001, ATRPeriod: 14}, book, logger.Discard())
	require.NoError(t, err)

	zs, err := d.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, zs, 1)
	assert.InDelta(t, 60.1, zs[0].Mid, 1e-9)
	assert.InDelta(t, 0.5, zs[0].Width, 0.05)
	assert.Equal(t, zs, book.All())
}

func TestDetectorScanFailureKeepsBook(t *testing.T) {
	book := NewBook()
	book.Replace([]Zone{{ID: "keep", Mid: 1.1, Width: 0.01}})

	d, err := NewDetector(&fakeSource{daily: flatDays(50, nil)}, "EUR_USD",
		Config{Depth: 0.5, SweepBand: 0.001}, book, nil)
	require.NoError(t, err)

	_, err = d.Scan(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	require.Equal(t, 1, book.Len())
	z, ok := book.Get("keep")
	require.True(t, ok)
	assert.Equal(t, 1.1, z.Mid)
}

func TestNewDetectorValidation(t *testing.T) {
	src := &fakeSource{}
	_, err := NewDetector(src, "EUR_USD", Config{Depth: 0, SweepBand: 0.001}, NewBook(), nil)
	assert.Error(t, err)
	_, err = NewDetector(src, "EUR_USD", Config{Depth: 1, SweepBand: 0}, NewBook(), nil)
	assert.Error(t, err)
	_, err = NewDetector(nil, "EUR_USD", Config{Depth: 1, SweepBand: 1}, NewBook(), nil)
	assert.Error(t, err)
}
