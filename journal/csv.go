package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	tradesHeader = []string{"trade_id", "instrument", "direction", "trade_type", "lots", "entry_price", "exit_price", "open_time", "close_time", "realized_pl", "reason"}
	equityHeader = []string{"time", "balance", "equity", "open_positions"}
	zonesHeader  = []string{"time", "instrument", "zone_id", "mid", "width", "strength"}
)

// CSV writes trades.csv, equity.csv and zones.csv into one directory.
type CSV struct {
	trades, equity, zones *csv.Writer
	files                 []*os.File
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &CSV{}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.trades, err = open("trades.csv", tradesHeader); err != nil {
		_ = j.closeFiles()
		return nil, err
	}
	if j.equity, err = open("equity.csv", equityHeader); err != nil {
		_ = j.closeFiles()
		return nil, err
	}
	if j.zones, err = open("zones.csv", zonesHeader); err != nil {
		_ = j.closeFiles()
		return nil, err
	}
	return j, nil
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	return writeRow(j.trades, []string{
		t.TradeID,
		t.Instrument,
		t.Direction,
		t.TradeType,
		f(t.Lots),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.Format(time.RFC3339),
		t.CloseTime.Format(time.RFC3339),
		f(t.RealizedPL),
		t.Reason,
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return writeRow(j.equity, []string{
		e.Time.Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		strconv.Itoa(e.OpenPositions),
	})
}

func (j *CSV) RecordZone(z ZoneSnapshot) error {
	return writeRow(j.zones, []string{
		z.Time.Format(time.RFC3339),
		z.Instrument,
		z.ZoneID,
		f(z.Mid),
		f(z.Width),
		strconv.Itoa(z.Strength),
	})
}

func (j *CSV) Close() error {
	var errs []error
	for _, w := range []*csv.Writer{j.trades, j.equity, j.zones} {
		w.Flush()
		errs = append(errs, w.Error())
	}
	errs = append(errs, j.closeFiles())
	return errors.Join(errs...)
}

func (j *CSV) closeFiles() error {
	var errs []error
	for _, fh := range j.files {
		errs = append(errs, fh.Close())
	}
	j.files = nil
	return errors.Join(errs...)
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
