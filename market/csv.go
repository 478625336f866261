package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var candleTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04",
}

// LoadCandlesCSV reads bars from path. See ReadCandlesCSV for the format.
func LoadCandlesCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	candles, err := ReadCandlesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// ReadCandlesCSV parses rows of
//
//	time,open,high,low,close[,volume]
//
// Time is RFC3339 or "2006-01-02 15:04[:05]" in UTC. A single header row
// ("time,...") is allowed. Empty rows are skipped.
func ReadCandlesCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Candle
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}

		c, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCandleRow(row []string) (Candle, error) {
	if len(row) < 5 {
		return Candle{}, fmt.Errorf("want at least 5 fields, got %d", len(row))
	}

	t, err := parseCandleTime(strings.TrimSpace(row[0]))
	if err != nil {
		return Candle{}, err
	}

	var v [5]float64
	n := 4
	if len(row) > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		s := strings.TrimSpace(row[i+1])
		v[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("bad number %q: %w", s, err)
		}
	}

	return Candle{
		Open:   v[0],
		High:   v[1],
		Low:    v[2],
		Close:  v[3],
		Time:   t,
		Volume: v[4],
	}, nil
}

func parseCandleTime(s string) (time.Time, error) {
	for _, layout := range candleTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}
