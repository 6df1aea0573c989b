package risk

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PositionPct expresses a notional as a percentage of equity.
func PositionPct(notional, equity decimal.Decimal) decimal.Decimal {
	if !equity.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(equity).Mul(hundred)
}

// MaxNotional is the largest notional the policy admits at this equity.
func MaxNotional(p Policy, equity decimal.Decimal) decimal.Decimal {
	if !equity.IsPositive() {
		return decimal.Zero
	}
	return equity.Mul(p.MaxPositionPct).Div(hundred)
}

// Margin is the collateral a notional needs at the given leverage.
func Margin(notional, leverage decimal.Decimal) decimal.Decimal {
	if !leverage.IsPositive() {
		return decimal.Zero
	}
	return notional.Div(leverage)
}
