package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SeriesStore is an in-memory Source backed by H1 candles. H4 and D1 series
// are aggregated once at load time (UTC-aligned) and served with closed-bar
// visibility relative to the store's clock, so a replay never sees a bar
// before it has finished.
type SeriesStore struct {
	mu     sync.RWMutex
	now    time.Time
	series map[string]map[Timeframe][]Candle
}

func NewSeriesStore() *SeriesStore {
	return &SeriesStore{series: make(map[string]map[Timeframe][]Candle)}
}

// Load replaces symbol's data with h1 (any order) and builds the higher
// timeframes.
func (s *SeriesStore) Load(symbol string, h1 []Candle) {
	base := make([]Candle, len(h1))
	copy(base, h1)
	sort.Slice(base, func(i, j int) bool { return base[i].Time.Before(base[j].Time) })

	byTF := map[Timeframe][]Candle{
		H1: base,
		H4: Aggregate(base, H4),
		D1: Aggregate(base, D1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[symbol] = byTF
}

// SetNow moves the visibility horizon. A zero time makes every bar visible.
func (s *SeriesStore) SetNow(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

func (s *SeriesStore) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

// Candles returns every loaded bar of tf for symbol regardless of the clock.
func (s *SeriesStore) Candles(symbol string, tf Timeframe) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.series[symbol][tf]
	out := make([]Candle, len(src))
	copy(out, src)
	return out
}

func (s *SeriesStore) Bars(ctx context.Context, symbol string, tf Timeframe, shift, count int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if shift < 0 || count <= 0 {
		return nil, fmt.Errorf("bars %s %s: bad shift=%d count=%d", symbol, tf, shift, count)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bars, ok := s.series[symbol][tf]
	if !ok {
		return nil, fmt.Errorf("bars %s %s: no series: %w", symbol, tf, ErrDataUnavailable)
	}

	visible := len(bars)
	if !s.now.IsZero() {
		d := tf.Duration()
		visible = sort.Search(len(bars), func(i int) bool {
			return bars[i].Time.Add(d).After(s.now)
		})
	}

	end := visible - shift
	start := end - count
	if start < 0 {
		return nil, fmt.Errorf("bars %s %s: need %d closed bars at shift %d, have %d: %w",
			symbol, tf, count, shift, visible, ErrDataUnavailable)
	}

	out := make([]Candle, count)
	copy(out, bars[start:end])
	return out, nil
}

// Aggregate folds sorted candles into tf buckets. Volume is summed.
func Aggregate(candles []Candle, tf Timeframe) []Candle {
	var out []Candle
	for _, c := range candles {
		start := tf.Start(c.Time)
		n := len(out)
		if n > 0 && out[n-1].Time.Equal(start) {
			b := &out[n-1]
			if c.High > b.High {
				b.High = c.High
			}
			if c.Low < b.Low {
				b.Low = c.Low
			}
			b.Close = c.Close
			b.Volume += c.Volume
			continue
		}
		out = append(out, Candle{
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Time:   start,
			Volume: c.Volume,
		})
	}
	return out
}
