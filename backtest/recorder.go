package backtest

import (
	"sync"

	"github.com/rustyeddy/zonetrader/journal"
)

// Recorder is a journal that keeps closed trades in memory and forwards
// every record to Next. It also counts stop-outs reported by the
// simulated broker.
type Recorder struct {
	Next journal.Journal

	mu       sync.Mutex
	trades   []journal.TradeRecord
	zones    int
	stopOuts int
}

func NewRecorder(next journal.Journal) *Recorder {
	if next == nil {
		next = journal.Nop{}
	}
	return &Recorder{Next: next}
}

func (r *Recorder) RecordTrade(t journal.TradeRecord) error {
	r.mu.Lock()
	r.trades = append(r.trades, t)
	r.mu.Unlock()
	return r.Next.RecordTrade(t)
}

func (r *Recorder) RecordEquity(e journal.EquitySnapshot) error {
	return r.Next.RecordEquity(e)
}

func (r *Recorder) RecordZone(z journal.ZoneSnapshot) error {
	r.mu.Lock()
	r.zones++
	r.mu.Unlock()
	return r.Next.RecordZone(z)
}

func (r *Recorder) Close() error { return r.Next.Close() }

// OnTradeClosed implements sim.TradeClosedListener.
func (r *Recorder) OnTradeClosed(tradeID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopOuts++
}

// Trades returns a copy of the closed trades seen so far.
func (r *Recorder) Trades() []journal.TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]journal.TradeRecord, len(r.trades))
	copy(out, r.trades)
	return out
}

func (r *Recorder) StopOuts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopOuts
}

// Zones counts zone snapshots, one per zone per detection pass.
func (r *Recorder) Zones() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zones
}
