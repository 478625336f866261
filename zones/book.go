package zones

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/zonetrader/market"
)

var ErrUnknownZone = errors.New("unknown zone")

// Book holds the current zone set. Detection replaces the whole set;
// trigger logic mutates single zones by id between detection passes.
type Book struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Zone
}

func NewBook() *Book {
	return &Book{byID: make(map[string]*Zone)}
}

// Replace swaps in a new zone set, keeping its order.
func (b *Book) Replace(zs []Zone) {
	order := make([]string, 0, len(zs))
	byID := make(map[string]*Zone, len(zs))
	for _, z := range zs {
		z := z
		order = append(order, z.ID)
		byID[z.ID] = &z
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = order
	b.byID = byID
}

// All returns a copy of every zone, strongest first.
func (b *Book) All() []Zone {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Zone, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.byID[id])
	}
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

func (b *Book) Get(id string) (Zone, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	z, ok := b.byID[id]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

// FindByMid returns the first zone whose midpoint is within MidTolerance
// of mid.
func (b *Book) FindByMid(mid float64) (Zone, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range b.order {
		z := b.byID[id]
		if math.Abs(z.Mid-mid) <= MidTolerance {
			return *z, true
		}
	}
	return Zone{}, false
}

func (b *Book) update(id string, fn func(z *Zone)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	z, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("zone %s: %w", id, ErrUnknownZone)
	}
	fn(z)
	return nil
}

// MarkFadePending flags a detected sweep awaiting confirmation.
func (b *Book) MarkFadePending(id string, d market.Direction) error {
	return b.update(id, func(z *Zone) {
		z.PendingFade = true
		z.FadeDirection = d
	})
}

func (b *Book) ClearFade(id string) error {
	return b.update(id, func(z *Zone) {
		z.PendingFade = false
		z.FadeDirection = market.None
	})
}

// RecordBreak stores the direction and time of a confirmed break.
func (b *Book) RecordBreak(id string, d market.Direction, at time.Time) error {
	return b.update(id, func(z *Zone) {
		z.BreakDirection = d
		z.BreakTime = at
	})
}

// ClearBreakTime ends the retest window of the last break. The break
// direction is kept so the same break is not flagged again.
func (b *Book) ClearBreakTime(id string) error {
	return b.update(id, func(z *Zone) {
		z.BreakTime = time.Time{}
	})
}

func (b *Book) SetLastTrade(id string, at time.Time) error {
	return b.update(id, func(z *Zone) {
		z.LastTradeTime = at
	})
}
