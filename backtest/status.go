package backtest

import (
	"time"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/shopspring/decimal"
)

// Status is a snapshot of a run in progress. Each Engine owns one; read it
// with Engine.Status.
type Status struct {
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Running    bool            `json:"running"`
	Bar        int             `json:"bar"` // bars completed
	Bars       int             `json:"bars"`
	LastBar    time.Time       `json:"last_bar"`
	Equity     decimal.Decimal `json:"equity"`
	LastAction decision.Action `json:"last_action"`
	Started    time.Time       `json:"started"`
	Finished   time.Time       `json:"finished"`
	Err        string          `json:"error,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) setStatus(fn func(*Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
}
