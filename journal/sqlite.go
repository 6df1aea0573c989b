package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

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
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, run_id, symbol, side, settlement, entry_price, exit_price, quantity, pnl, pnl_pct, open_time, close_time, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.Symbol, t.Side, t.Settlement,
		t.EntryPrice.String(), t.ExitPrice.String(), t.Quantity.String(),
		t.PnL.String(), t.PnLPct.String(), t.OpenTime, t.CloseTime, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, cash, unrealized_pnl, equity, margin_used, free_margin, drawdown_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Cash.String(), e.UnrealizedPnL.String(), e.Equity.String(),
		e.MarginUsed.String(), e.FreeMargin.String(), e.DrawdownPct.String(),
	)
	return err
}

func (j *SQLite) RecordBacktest(ctx context.Context, r BacktestRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_runs
		(run_id, created, symbol, timeframe, dataset, source, config, start_time, end_time, bars,
		 trades, wins, losses, liquidations, fallbacks, rejected,
		 start_balance, end_balance, net_pl,
		 return_pct, win_rate, profit_factor, max_dd_pct, sharpe, sortino, calmar, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Symbol, r.Timeframe, r.Dataset, r.Source, r.Config, r.Start, r.End, r.Bars,
		r.Trades, r.Wins, r.Losses, r.Liquidations, r.Fallbacks, r.Rejected,
		r.StartBalance.String(), r.EndBalance.String(), r.NetPL.String(),
		r.ReturnPct, r.WinRate, r.ProfitFactor, r.MaxDDPct, r.Sharpe, r.Sortino, r.Calmar,
		strings.Join(r.Notes, "\n"),
	)
	if err != nil {
		return fmt.Errorf("journal: record backtest %s: %w", r.RunID, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
