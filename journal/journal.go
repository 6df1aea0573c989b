// journal/journal.go
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("journal: not found")

// TradeRecord is one closed (or partially closed) position.
type TradeRecord struct {
	RunID      string
	TradeID    string
	Symbol     string
	Side       string // "long" or "short"
	Settlement string // "linear" or "inverse"
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal // base units (linear) or contracts (inverse)
	PnL        decimal.Decimal // quote currency
	PnLPct     decimal.Decimal // percent of margin
	OpenTime   time.Time
	CloseTime  time.Time
	Reason     string
}

// EquitySnapshot is the account state after a bar.
type EquitySnapshot struct {
	RunID         string
	Time          time.Time
	Cash          decimal.Decimal // wallet balance, margin in use included
	UnrealizedPnL decimal.Decimal
	Equity        decimal.Decimal
	MarginUsed    decimal.Decimal
	FreeMargin    decimal.Decimal
	DrawdownPct   decimal.Decimal
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// RunRecorder is implemented by journals that keep run summaries.
type RunRecorder interface {
	RecordBacktest(ctx context.Context, run BacktestRun) error
}

// Reader is implemented by journals that can be queried back.
type Reader interface {
	GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error)
	ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error)
	ListEquityByRunID(ctx context.Context, runID string) ([]EquitySnapshot, error)
}
