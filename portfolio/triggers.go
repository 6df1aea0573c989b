package portfolio

import (
	"github.com/rustyeddy/llmtrader/market"
	"github.com/shopspring/decimal"
)

// exitFor decides whether a bar forces the position out, and at what price.
// Adverse levels are checked before favourable ones: a stop that sits at or
// inside the liquidation price fires first, otherwise liquidation wins.
func exitFor(p *Position, bar market.Bar) (decimal.Decimal, CloseReason, bool) {
	hasStop := p.StopLoss.IsPositive()
	hasTake := p.TakeProfit.IsPositive()

	if p.Side.IsLong() {
		if hasStop && bar.Low.LessThanOrEqual(p.StopLoss) && p.StopLoss.GreaterThanOrEqual(p.LiquidationPrice) {
			return p.StopLoss, ReasonStopLoss, true
		}
		if bar.Low.LessThanOrEqual(p.LiquidationPrice) {
			return p.LiquidationPrice, ReasonLiquidation, true
		}
		if hasTake && bar.High.GreaterThanOrEqual(p.TakeProfit) {
			return p.TakeProfit, ReasonTakeProfit, true
		}
		return decimal.Zero, "", false
	}

	if hasStop && bar.High.GreaterThanOrEqual(p.StopLoss) && p.StopLoss.LessThanOrEqual(p.LiquidationPrice) {
		return p.StopLoss, ReasonStopLoss, true
	}
	if bar.High.GreaterThanOrEqual(p.LiquidationPrice) {
		return p.LiquidationPrice, ReasonLiquidation, true
	}
	if hasTake && bar.Low.LessThanOrEqual(p.TakeProfit) {
		return p.TakeProfit, ReasonTakeProfit, true
	}
	return decimal.Zero, "", false
}
