package risk

import "github.com/shopspring/decimal"

// RR is reward over risk. Zero when there is no risk distance.
func RR(entry, stop, takeProfit decimal.Decimal) decimal.Decimal {
	risk := entry.Sub(stop).Abs()
	reward := takeProfit.Sub(entry).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return reward.Div(risk)
}

// PlannedRiskUSD is what a position of the given notional loses if the
// stop is hit.
func PlannedRiskUSD(notional, entry, stop decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	return notional.Mul(entry.Sub(stop).Abs()).Div(entry)
}
