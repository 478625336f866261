package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, instrument, direction, trade_type, lots, entry_price, exit_price, open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Instrument, t.Direction, t.TradeType, t.Lots, t.EntryPrice,
		t.ExitPrice, t.OpenTime, t.CloseTime, t.RealizedPL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, equity, open_positions)
		VALUES (?, ?, ?, ?)`,
		e.Time, e.Balance, e.Equity, e.OpenPositions,
	)
	return err
}

func (j *SQLite) RecordZone(z ZoneSnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO zones
		(time, instrument, zone_id, mid, width, strength)
		VALUES (?, ?, ?, ?, ?, ?)`,
		z.Time, z.Instrument, z.ZoneID, z.Mid, z.Width, z.Strength,
	)
	return err
}

func (j *SQLite) RecordBacktest(ctx context.Context, r BacktestRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
		(run_id, created, instrument, strategy, dataset, start_time, end_time,
		 trades, wins, losses, start_balance, end_balance, net_pl, return_pct,
		 win_rate, profit_factor, max_dd_pct, zone_scans)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Instrument, r.Strategy, r.Dataset, r.Start, r.End,
		r.Trades, r.Wins, r.Losses, r.StartBalance, r.EndBalance, r.NetPL, r.ReturnPct,
		r.WinRate, r.ProfitFactor, r.MaxDDPct, r.ZoneScans,
	)
	return err
}

func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var r BacktestRun
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, instrument, strategy, dataset, start_time, end_time,
		       trades, wins, losses, start_balance, end_balance, net_pl, return_pct,
		       win_rate, profit_factor, max_dd_pct, zone_scans
		FROM backtest_runs
		WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Instrument, &r.Strategy, &r.Dataset, &r.Start, &r.End,
		&r.Trades, &r.Wins, &r.Losses, &r.StartBalance, &r.EndBalance, &r.NetPL, &r.ReturnPct,
		&r.WinRate, &r.ProfitFactor, &r.MaxDDPct, &r.ZoneScans,
	)
	if err == sql.ErrNoRows {
		return BacktestRun{}, fmt.Errorf("backtest run %q not found", runID)
	}
	return r, err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
