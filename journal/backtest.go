package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestRun mirrors the backtest_runs table.
type BacktestRun struct {
	RunID     string
	Created   time.Time
	Symbol    string
	Timeframe string
	Dataset   string
	Source    string // "fixture" or "oracle"
	Config    []byte // run config as YAML

	Start time.Time
	End   time.Time
	Bars  int

	// Results
	Trades       int
	Wins         int
	Losses       int
	Liquidations int
	Fallbacks    int
	Rejected     int

	StartBalance decimal.Decimal
	EndBalance   decimal.Decimal
	NetPL        decimal.Decimal

	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64
	Sharpe       float64
	Sortino      float64
	Calmar       float64

	Notes []string
}
