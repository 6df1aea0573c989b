package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy holds the hard limits every decision is checked against.
type Policy struct {
	MaxLeverage    decimal.Decimal // 5
	MaxPositionPct decimal.Decimal // 30, percent of equity
	MinRiskReward  decimal.Decimal // 2.0

	// Used for liquidation prices, not by Validate.
	MaintenanceMarginRate decimal.Decimal // 0.004
}

func DefaultPolicy() Policy {
	return Policy{
		MaxLeverage:           decimal.NewFromInt(5),
		MaxPositionPct:        decimal.NewFromInt(30),
		MinRiskReward:         decimal.RequireFromString("2.0"),
		MaintenanceMarginRate: decimal.RequireFromString("0.004"),
	}
}

func (p Policy) Validate() error {
	if p.MaxLeverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk: max_leverage must be at least 1")
	}
	if !p.MaxPositionPct.IsPositive() || p.MaxPositionPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("risk: max_position_pct must be in (0, 100]")
	}
	if p.MinRiskReward.IsNegative() {
		return fmt.Errorf("risk: min_risk_reward must not be negative")
	}
	if p.MaintenanceMarginRate.IsNegative() || !p.MaintenanceMarginRate.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk: maintenance_margin_rate must be in [0, 1)")
	}
	// A position at max leverage must not start inside its own liquidation zone.
	if p.MaintenanceMarginRate.GreaterThanOrEqual(decimal.NewFromInt(1).Div(p.MaxLeverage)) {
		return fmt.Errorf("risk: maintenance_margin_rate %s leaves no room at %sx leverage", p.MaintenanceMarginRate, p.MaxLeverage)
	}
	return nil
}

// Quote is the market context a decision is judged in.
type Quote struct {
	EntryPrice decimal.Decimal // expected fill, usually the bar close
	Equity     decimal.Decimal
	Held       decimal.Decimal // notional already open on the decision's side
}
