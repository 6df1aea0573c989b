package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const tradeColumns = `trade_id, run_id, symbol, side, settlement, entry_price, exit_price, quantity, pnl, pnl_pct, open_time, close_time, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID,
		&rec.RunID,
		&rec.Symbol,
		&rec.Side,
		&rec.Settlement,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.Quantity,
		&rec.PnL,
		&rec.PnLPct,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("%w: trade %q", ErrNotFound, tradeID)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC, trade_id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func (j *SQLite) ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ?
		ORDER BY close_time ASC, trade_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) ListEquityByRunID(ctx context.Context, runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, time, cash, unrealized_pnl, equity, margin_used, free_margin, drawdown_pct
		FROM equity
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(
			&e.RunID,
			&e.Time,
			&e.Cash,
			&e.UnrealizedPnL,
			&e.Equity,
			&e.MarginUsed,
			&e.FreeMargin,
			&e.DrawdownPct,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var (
		r     BacktestRun
		notes string
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, symbol, timeframe, dataset, source, config, start_time, end_time, bars,
		       trades, wins, losses, liquidations, fallbacks, rejected,
		       start_balance, end_balance, net_pl,
		       return_pct, win_rate, profit_factor, max_dd_pct, sharpe, sortino, calmar, notes
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Symbol, &r.Timeframe, &r.Dataset, &r.Source, &r.Config, &r.Start, &r.End, &r.Bars,
		&r.Trades, &r.Wins, &r.Losses, &r.Liquidations, &r.Fallbacks, &r.Rejected,
		&r.StartBalance, &r.EndBalance, &r.NetPL,
		&r.ReturnPct, &r.WinRate, &r.ProfitFactor, &r.MaxDDPct, &r.Sharpe, &r.Sortino, &r.Calmar, &notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BacktestRun{}, fmt.Errorf("%w: backtest run %q", ErrNotFound, runID)
		}
		return BacktestRun{}, err
	}
	if notes != "" {
		r.Notes = strings.Split(notes, "\n")
	}
	return r, nil
}
