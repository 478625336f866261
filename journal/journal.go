// Package journal records what a run did: closed trades, equity
// snapshots, zone snapshots and backtest summaries.
package journal

import "time"

type TradeRecord struct {
	TradeID    string
	Instrument string
	Direction  string
	TradeType  string
	Lots       float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

type EquitySnapshot struct {
	Time          time.Time
	Balance       float64
	Equity        float64
	OpenPositions int
}

// ZoneSnapshot is one zone as published by a detection pass.
type ZoneSnapshot struct {
	Time       time.Time
	Instrument string
	ZoneID     string
	Mid        float64
	Width      float64
	Strength   int
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordZone(ZoneSnapshot) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordZone(ZoneSnapshot) error     { return nil }
func (Nop) Close() error                      { return nil }
