package backtest

import (
	"fmt"
	"time"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/metrics"
	"github.com/rustyeddy/llmtrader/portfolio"
	"github.com/shopspring/decimal"
)

type DecisionStatus string

const (
	StatusApplied     DecisionStatus = "applied"
	StatusWait        DecisionStatus = "wait"
	StatusFallback    DecisionStatus = "fallback"
	StatusRejected    DecisionStatus = "rejected"
	StatusOracleError DecisionStatus = "oracle_error"
)

// DecisionEntry records what happened to the decision of one bar.
type DecisionEntry struct {
	Time       time.Time       `json:"timestamp"`
	Action     decision.Action `json:"action"`
	Status     DecisionStatus  `json:"status"`
	Confidence decimal.Decimal `json:"confidence"`
	Errors     []string        `json:"errors,omitempty"`
}

// Counters tally how each bar went.
type Counters struct {
	Bars               int `json:"bars"`
	Decisions          int `json:"decisions"`
	Applied            int `json:"applied"`
	Waits              int `json:"waits"`
	Fallbacks          int `json:"fallbacks"`
	ParseFailures      int `json:"parse_failures"`
	ValidationFailures int `json:"validation_failures"`
	OracleErrors       int `json:"oracle_errors"`
	RejectedOrders     int `json:"rejected_orders"`
	Liquidations       int `json:"liquidations"`
	StopLosses         int `json:"stop_losses"`
	TakeProfits        int `json:"take_profits"`
}

func (c *Counters) exit(r portfolio.CloseReason) {
	switch r {
	case portfolio.ReasonLiquidation:
		c.Liquidations++
	case portfolio.ReasonStopLoss:
		c.StopLosses++
	case portfolio.ReasonTakeProfit:
		c.TakeProfits++
	}
}

// Report is what a finished run hands to renderers and dashboards.
type Report struct {
	RunID       string                  `json:"run_id"`
	Symbol      string                  `json:"symbol"`
	Timeframe   string                  `json:"timeframe"`
	Metrics     metrics.Result          `json:"metrics"`
	EquityCurve []portfolio.EquityPoint `json:"equity_curve"`
	Trades      []portfolio.Trade       `json:"trades"`
	Counters    Counters                `json:"counters"`
	Decisions   []DecisionEntry         `json:"decisions"`
}

// BacktestRun summarizes the report for the journal.
func (r *Report) BacktestRun(initial decimal.Decimal) journal.BacktestRun {
	m := r.Metrics
	return journal.BacktestRun{
		RunID:        r.RunID,
		Created:      time.Now().UTC(),
		Symbol:       r.Symbol,
		Timeframe:    r.Timeframe,
		Start:        m.Start,
		End:          m.End,
		Bars:         m.Bars,
		Trades:       m.TotalTrades,
		Wins:         m.Wins,
		Losses:       m.Losses,
		Liquidations: r.Counters.Liquidations,
		Fallbacks:    r.Counters.Fallbacks,
		Rejected:     r.Counters.ValidationFailures + r.Counters.RejectedOrders,
		StartBalance: initial,
		EndBalance:   m.FinalEquity,
		NetPL:        m.FinalEquity.Sub(initial),
		ReturnPct:    m.TotalReturnPct,
		WinRate:      m.WinRatePct,
		ProfitFactor: m.ProfitFactor,
		MaxDDPct:     m.MaxDrawdownPct,
		Sharpe:       m.Sharpe,
		Sortino:      m.Sortino,
		Calmar:       m.Calmar,
		Notes:        r.notes(),
	}
}

func (r *Report) notes() []string {
	c := r.Counters
	var out []string
	if c.ParseFailures > 0 {
		out = append(out, fmt.Sprintf("%d unparseable decision(s) replaced by wait", c.ParseFailures))
	}
	if c.OracleErrors > 0 {
		out = append(out, fmt.Sprintf("%d decision source error(s) replaced by wait", c.OracleErrors))
	}
	if c.ValidationFailures > 0 {
		out = append(out, fmt.Sprintf("%d decision(s) failed validation", c.ValidationFailures))
	}
	if c.RejectedOrders > 0 {
		out = append(out, fmt.Sprintf("%d order(s) rejected by the portfolio", c.RejectedOrders))
	}
	if c.Liquidations > 0 {
		out = append(out, fmt.Sprintf("%d liquidation(s)", c.Liquidations))
	}
	return out
}
