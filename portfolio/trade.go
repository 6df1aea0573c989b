package portfolio

import (
	"time"

	"github.com/rustyeddy/llmtrader/journal"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) IsLong() bool { return s == Long }

type CloseReason string

const (
	ReasonSignal      CloseReason = "signal"
	ReasonStopLoss    CloseReason = "stop_loss"
	ReasonTakeProfit  CloseReason = "take_profit"
	ReasonLiquidation CloseReason = "liquidation"
	ReasonEndOfRun    CloseReason = "end_of_run"
)

// Trade is an append-only ledger entry written on every close or reduce.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPct      decimal.Decimal `json:"pnl_pct"` // percent of the margin released
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"timestamp"`
	HoldingTime time.Duration   `json:"holding_time"`
	Reason      CloseReason     `json:"close_reason"`
}

func (t Trade) IsWin() bool { return t.PnL.IsPositive() }

// EquityPoint is the account state recorded once per replayed bar.
// TotalEquity always equals Cash + UnrealizedPnL; Cash includes margin in use.
type EquityPoint struct {
	Time          time.Time       `json:"timestamp"`
	Cash          decimal.Decimal `json:"cash"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalEquity   decimal.Decimal `json:"total_equity"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
}

func (p *Portfolio) tradeRecord(t Trade, settlement string) journal.TradeRecord {
	return journal.TradeRecord{
		RunID:      p.runID,
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Settlement: settlement,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		PnL:        t.PnL,
		PnLPct:     t.PnLPct,
		OpenTime:   t.OpenedAt,
		CloseTime:  t.ClosedAt,
		Reason:     string(t.Reason),
	}
}

func (p *Portfolio) equityRecord(e EquityPoint) journal.EquitySnapshot {
	return journal.EquitySnapshot{
		RunID:         p.runID,
		Time:          e.Time,
		Cash:          e.Cash,
		UnrealizedPnL: e.UnrealizedPnL,
		Equity:        e.TotalEquity,
		MarginUsed:    e.MarginUsed,
		FreeMargin:    e.Cash.Sub(e.MarginUsed),
		DrawdownPct:   e.DrawdownPct,
	}
}
