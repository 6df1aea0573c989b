package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresSchema mirrors Schema with native NUMERIC columns.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	settlement TEXT NOT NULL,
	entry_price NUMERIC NOT NULL,
	exit_price NUMERIC NOT NULL,
	quantity NUMERIC NOT NULL,
	pnl NUMERIC NOT NULL,
	pnl_pct NUMERIC NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	close_time TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, close_time);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	cash NUMERIC NOT NULL,
	unrealized_pnl NUMERIC NOT NULL,
	equity NUMERIC NOT NULL,
	margin_used NUMERIC NOT NULL,
	free_margin NUMERIC NOT NULL,
	drawdown_pct NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_run_time ON equity(run_id, time);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	dataset TEXT NOT NULL,
	source TEXT NOT NULL,
	config BYTEA,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	bars INTEGER NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	liquidations INTEGER NOT NULL,
	fallbacks INTEGER NOT NULL,
	rejected INTEGER NOT NULL,
	start_balance NUMERIC NOT NULL,
	end_balance NUMERIC NOT NULL,
	net_pl NUMERIC NOT NULL,
	return_pct DOUBLE PRECISION NOT NULL,
	win_rate DOUBLE PRECISION NOT NULL,
	profit_factor DOUBLE PRECISION NOT NULL,
	max_dd_pct DOUBLE PRECISION NOT NULL,
	sharpe DOUBLE PRECISION NOT NULL,
	sortino DOUBLE PRECISION NOT NULL,
	calmar DOUBLE PRECISION NOT NULL,
	notes TEXT NOT NULL
);
`

// equityBatchSize is how many snapshots are buffered before a flush.
const equityBatchSize = 256

// Postgres journals into PostgreSQL. Equity snapshots are buffered and
// written in batches; trades are written immediately.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration

	mu      sync.Mutex
	pending []EquitySnapshot
}

// NewPostgres connects, pings and creates the schema.
func NewPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("journal: postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: postgres parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: postgres schema: %w", err)
	}
	return &Postgres{pool: pool, timeout: 10 * time.Second}, nil
}

func (p *Postgres) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

func (p *Postgres) RecordTrade(t TradeRecord) error {
	ctx, cancel := p.ctx()
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO trades
		(trade_id, run_id, symbol, side, settlement, entry_price, exit_price, quantity, pnl, pnl_pct, open_time, close_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10::text::numeric, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING`,
		t.TradeID, t.RunID, t.Symbol, t.Side, t.Settlement,
		t.EntryPrice.String(), t.ExitPrice.String(), t.Quantity.String(), t.PnL.String(), t.PnLPct.String(),
		t.OpenTime, t.CloseTime, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("journal: postgres insert trade %s: %w", t.TradeID, err)
	}
	return nil
}

func (p *Postgres) RecordEquity(e EquitySnapshot) error {
	p.mu.Lock()
	p.pending = append(p.pending, e)
	full := len(p.pending) >= equityBatchSize
	p.mu.Unlock()

	if full {
		return p.Flush()
	}
	return nil
}

// Flush writes buffered equity snapshots in one batch.
func (p *Postgres) Flush() error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := p.ctx()
	defer cancel()

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO equity (run_id, time, cash, unrealized_pnl, equity, margin_used, free_margin, drawdown_pct)
		VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8::text::numeric)`
	for _, e := range pending {
		batch.Queue(query,
			e.RunID, e.Time, e.Cash.String(), e.UnrealizedPnL.String(), e.Equity.String(),
			e.MarginUsed.String(), e.FreeMargin.String(), e.DrawdownPct.String(),
		)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range pending {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("journal: postgres insert equity %d: %w", i, err)
		}
	}
	return nil
}

func (p *Postgres) RecordBacktest(ctx context.Context, r BacktestRun) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO backtest_runs
		(run_id, created, symbol, timeframe, dataset, source, config, start_time, end_time, bars,
		 trades, wins, losses, liquidations, fallbacks, rejected,
		 start_balance, end_balance, net_pl,
		 return_pct, win_rate, profit_factor, max_dd_pct, sharpe, sortino, calmar, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17::text::numeric, $18::text::numeric, $19::text::numeric,
		        $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (run_id) DO NOTHING`,
		r.RunID, r.Created, r.Symbol, r.Timeframe, r.Dataset, r.Source, r.Config, r.Start, r.End, r.Bars,
		r.Trades, r.Wins, r.Losses, r.Liquidations, r.Fallbacks, r.Rejected,
		r.StartBalance.String(), r.EndBalance.String(), r.NetPL.String(),
		r.ReturnPct, r.WinRate, r.ProfitFactor, r.MaxDDPct, r.Sharpe, r.Sortino, r.Calmar,
		strings.Join(r.Notes, "\n"),
	)
	if err != nil {
		return fmt.Errorf("journal: postgres record backtest %s: %w", r.RunID, err)
	}
	return nil
}

func (p *Postgres) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var (
		r                       BacktestRun
		startBal, endBal, netPL string
		notes                   string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT run_id, created, symbol, timeframe, dataset, source, config, start_time, end_time, bars,
		       trades, wins, losses, liquidations, fallbacks, rejected,
		       start_balance::text, end_balance::text, net_pl::text,
		       return_pct, win_rate, profit_factor, max_dd_pct, sharpe, sortino, calmar, notes
		FROM backtest_runs WHERE run_id = $1`, runID).Scan(
		&r.RunID, &r.Created, &r.Symbol, &r.Timeframe, &r.Dataset, &r.Source, &r.Config, &r.Start, &r.End, &r.Bars,
		&r.Trades, &r.Wins, &r.Losses, &r.Liquidations, &r.Fallbacks, &r.Rejected,
		&startBal, &endBal, &netPL,
		&r.ReturnPct, &r.WinRate, &r.ProfitFactor, &r.MaxDDPct, &r.Sharpe, &r.Sortino, &r.Calmar, &notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BacktestRun{}, fmt.Errorf("%w: backtest run %q", ErrNotFound, runID)
		}
		return BacktestRun{}, err
	}
	if err := parseDecimals([]string{startBal, endBal, netPL}, &r.StartBalance, &r.EndBalance, &r.NetPL); err != nil {
		return BacktestRun{}, err
	}
	if notes != "" {
		r.Notes = strings.Split(notes, "\n")
	}
	return r, nil
}

func (p *Postgres) ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT trade_id, run_id, symbol, side, settlement,
		       entry_price::text, exit_price::text, quantity::text, pnl::text, pnl_pct::text,
		       open_time, close_time, reason
		FROM trades WHERE run_id = $1
		ORDER BY close_time ASC, trade_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			t    TradeRecord
			nums [5]string
		)
		if err := rows.Scan(&t.TradeID, &t.RunID, &t.Symbol, &t.Side, &t.Settlement,
			&nums[0], &nums[1], &nums[2], &nums[3], &nums[4],
			&t.OpenTime, &t.CloseTime, &t.Reason); err != nil {
			return nil, err
		}
		if err := parseDecimals(nums[:], &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL, &t.PnLPct); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) ListEquityByRunID(ctx context.Context, runID string) ([]EquitySnapshot, error) {
	if err := p.Flush(); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT run_id, time, cash::text, unrealized_pnl::text, equity::text,
		       margin_used::text, free_margin::text, drawdown_pct::text
		FROM equity WHERE run_id = $1 ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var (
			e    EquitySnapshot
			nums [6]string
		)
		if err := rows.Scan(&e.RunID, &e.Time, &nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5]); err != nil {
			return nil, err
		}
		if err := parseDecimals(nums[:], &e.Cash, &e.UnrealizedPnL, &e.Equity, &e.MarginUsed, &e.FreeMargin, &e.DrawdownPct); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseDecimals(src []string, dst ...*decimal.Decimal) error {
	for i, s := range src {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("journal: bad numeric %q: %w", s, err)
		}
		*dst[i] = v
	}
	return nil
}

// Close flushes pending snapshots and releases the pool.
func (p *Postgres) Close() error {
	err := p.Flush()
	p.pool.Close()
	return err
}
