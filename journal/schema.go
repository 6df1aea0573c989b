// journal/schema.go
package journal

// Schema is the SQLite layout. Decimals are stored as TEXT so they round
// trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	settlement TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	pnl TEXT NOT NULL,
	pnl_pct TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, close_time);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	cash TEXT NOT NULL,
	unrealized_pnl TEXT NOT NULL,
	equity TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	free_margin TEXT NOT NULL,
	drawdown_pct TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_run_time ON equity(run_id, time);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	dataset TEXT NOT NULL,
	source TEXT NOT NULL,
	config BLOB,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	bars INTEGER NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	liquidations INTEGER NOT NULL,
	fallbacks INTEGER NOT NULL,
	rejected INTEGER NOT NULL,
	start_balance TEXT NOT NULL,
	end_balance TEXT NOT NULL,
	net_pl TEXT NOT NULL,
	return_pct REAL NOT NULL,
	win_rate REAL NOT NULL,
	profit_factor REAL NOT NULL,
	max_dd_pct REAL NOT NULL,
	sharpe REAL NOT NULL,
	sortino REAL NOT NULL,
	calmar REAL NOT NULL,
	notes TEXT NOT NULL
);
`
