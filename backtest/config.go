package backtest

import (
	"fmt"
	"time"

	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/risk"
	"github.com/shopspring/decimal"
)

// Config is everything a run needs, fixed at construction time.
type Config struct {
	RunID          string // empty means a fresh ULID
	Symbol         string
	Timeframe      string // "1h", "H1", "15m"...
	InitialCapital decimal.Decimal
	Policy         risk.Policy
	Contracts      *market.Registry

	// GapTolerance is the number of missing bars allowed between two
	// consecutive bars before the run aborts.
	GapTolerance int

	DecisionTimeout time.Duration // zero means no per-bar deadline
	Lookback        int           // bars handed to the decision source
	CloseAtEnd      bool
	Seed            int64 // trade ID generator seed

	Dataset string // informational, stored with the run summary
}

func DefaultConfig() Config {
	return Config{
		Symbol:          "BTCUSDT",
		Timeframe:       "1h",
		InitialCapital:  decimal.NewFromInt(10000),
		Policy:          risk.DefaultPolicy(),
		Contracts:       market.DefaultRegistry(),
		GapTolerance:    0,
		DecisionTimeout: 30 * time.Second,
		Lookback:        24,
		CloseAtEnd:      true,
		Seed:            1,
	}
}

func (c *Config) Validate() error {
	if c.Contracts == nil {
		c.Contracts = market.DefaultRegistry()
	}
	spec, err := c.Contracts.Lookup(c.Symbol)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	c.Symbol = spec.Symbol
	if _, err := market.TFDuration(c.Timeframe); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("backtest: initial capital must be positive")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if c.GapTolerance < 0 {
		return fmt.Errorf("backtest: gap tolerance must not be negative")
	}
	if c.DecisionTimeout < 0 {
		return fmt.Errorf("backtest: decision timeout must not be negative")
	}
	if c.Lookback < 0 {
		return fmt.Errorf("backtest: lookback must not be negative")
	}
	return nil
}
