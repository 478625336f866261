package zones

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/zonetrader/indicators"
	"github.com/rustyeddy/zonetrader/logger"
	"github.com/rustyeddy/zonetrader/market"
	"github.com/rustyeddy/zonetrader/pkg/id"
)

const (
	// HistoryBars is the daily window pivots are searched in.
	HistoryBars = 200
	// MaxPivots caps the pivots collected per pass.
	MaxPivots = 100
	// pivotSpan is the number of bars on each side a pivot must beat.
	pivotSpan = 2
)

// Pivot is a fractal high or low.
type Pivot struct {
	Price float64
	High  bool
	Time  time.Time
}

// Config controls a Detector.
type Config struct {
	// Depth multiplies ATR into the cluster width.
	Depth float64
	// SweepBand is the half-width, in price units, of the band sweeps are
	// counted against.
	SweepBand float64
	// ATRPeriod is the daily ATR period the cluster width is based on.
	ATRPeriod int
}

// Detector runs detection passes for one symbol and publishes the result
// into a Book.
type Detector struct {
	src    market.Source
	symbol string
	cfg    Config
	book   *Book
	log    *logrus.Entry
}

func NewDetector(src market.Source, symbol string, cfg Config, book *Book, log *logger.Logger) (*Detector, error) {
	if src == nil {
		return nil, fmt.Errorf("zones: nil source")
	}
	if book == nil {
		return nil, fmt.Errorf("zones: nil book")
	}
	if cfg.Depth <= 0 {
		return nil, fmt.Errorf("zones: depth must be positive, got %v", cfg.Depth)
	}
	if cfg.SweepBand <= 0 {
		return nil, fmt.Errorf("zones: sweep band must be positive, got %v", cfg.SweepBand)
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Detector{
		src:    src,
		symbol: symbol,
		cfg:    cfg,
		book:   book,
		log:    log.Component("zones", symbol),
	}, nil
}

// Scan fetches the daily window, detects zones and replaces the book's
// contents. On error the book is left as it was.
func (d *Detector) Scan(ctx context.Context) ([]Zone, error) {
	bars, err := market.DailyBars(ctx, d.src, d.symbol, HistoryBars)
	if err != nil {
		return nil, fmt.Errorf("zone scan: %w", err)
	}
	atr, err := indicators.ATR(bars, d.cfg.ATRPeriod)
	if err != nil {
		return nil, fmt.Errorf("zone scan: %w", err)
	}

	zs := DetectZones(bars, atr, d.cfg.Depth, d.cfg.SweepBand)
	d.book.Replace(zs)

	d.log.WithFields(logrus.Fields{
		"zones": len(zs),
		"atr":   atr,
	}).Debug("zone scan complete")
	return zs, nil
}

// DetectZones turns a daily window into at most MaxZones zones sorted by
// strength, strongest first.
func DetectZones(bars []market.Candle, atr, depth, sweepBand float64) []Zone {
	width := atr * depth
	zs := Cluster(FindPivots(bars), width)
	if len(zs) == 0 {
		return nil
	}

	asOf := bars[len(bars)-1].Time.Add(market.D1.Duration())
	for i := range zs {
		zs[i].Strength = Strength(zs[i].Mid, bars, sweepBand, asOf)
		zs[i].ID = id.NewAt(asOf)
	}

	sort.SliceStable(zs, func(i, j int) bool { return zs[i].Strength > zs[j].Strength })
	if len(zs) > MaxZones {
		zs = zs[:MaxZones]
	}
	return zs
}

// FindPivots scans bars in chronological order for fractal highs and lows,
// stopping at MaxPivots.
func FindPivots(bars []market.Candle) []Pivot {
	var out []Pivot
	for i := pivotSpan; i < len(bars)-pivotSpan; i++ {
		if len(out) >= MaxPivots {
			break
		}
		if isPivotHigh(bars, i) {
			out = append(out, Pivot{Price: bars[i].High, High: true, Time: bars[i].Time})
			if len(out) >= MaxPivots {
				break
			}
		}
		if isPivotLow(bars, i) {
			out = append(out, Pivot{Price: bars[i].Low, Time: bars[i].Time})
		}
	}
	return out
}

func isPivotHigh(bars []market.Candle, i int) bool {
	for k := 1; k <= pivotSpan; k++ {
		if bars[i].High <= bars[i-k].High || bars[i].High <= bars[i+k].High {
			return false
		}
	}
	return true
}

func isPivotLow(bars []market.Candle, i int) bool {
	for k := 1; k <= pivotSpan; k++ {
		if bars[i].Low >= bars[i-k].Low || bars[i].Low >= bars[i+k].Low {
			return false
		}
	}
	return true
}

// Cluster groups pivots lying within width of each other. A pivot close
// to an already emitted zone is skipped; a pivot with no neighbour yields
// nothing.
func Cluster(pivots []Pivot, width float64) []Zone {
	var zs []Zone
	for _, p := range pivots {
		if nearZone(zs, p.Price, width) {
			continue
		}

		sum, n := 0.0, 0
		for _, q := range pivots {
			if math.Abs(q.Price-p.Price) <= width {
				sum += q.Price
				n++
			}
		}
		if n < 2 {
			continue
		}
		zs = append(zs, Zone{Mid: sum / float64(n), Width: width})
	}
	return zs
}

func nearZone(zs []Zone, price, width float64) bool {
	for _, z := range zs {
		if math.Abs(price-z.Mid) <= width {
			return true
		}
	}
	return false
}

type side int8

const (
	below side = iota - 1
	inside
	above
)

func sideOf(price, mid, band float64) side {
	switch {
	case price > mid+band:
		return above
	case price < mid-band:
		return below
	default:
		return inside
	}
}

// Sweeps counts transitions into or out of the band mid±band, walking the
// closes from newest to oldest.
func Sweeps(mid float64, bars []market.Candle, band float64) int {
	if len(bars) == 0 {
		return 0
	}
	n := 0
	prev := sideOf(bars[len(bars)-1].Close, mid, band)
	for i := len(bars) - 2; i >= 0; i-- {
		cur := sideOf(bars[i].Close, mid, band)
		if cur != prev && (cur == inside || prev == inside) {
			n++
		}
		prev = cur
	}
	return n
}

// Strength scores a zone as sweeps² × ln(age in days), at least 1. Age is
// measured from the oldest bar to asOf.
func Strength(mid float64, bars []market.Candle, band float64, asOf time.Time) int {
	if len(bars) == 0 {
		return 1
	}
	sweeps := float64(Sweeps(mid, bars, band))
	age := math.Max(asOf.Sub(bars[0].Time).Hours()/24, 1)
	s := sweeps * sweeps * math.Log(age)
	if s < 1 {
		return 1
	}
	return int(s)
}
