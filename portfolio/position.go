package portfolio

import (
	"time"

	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/precision"
	"github.com/shopspring/decimal"
)

// Position is the single open position of a symbol.
type Position struct {
	Symbol           string
	Side             Side
	Spec             market.ContractSpec
	EntryPrice       decimal.Decimal
	Quantity         decimal.Decimal // base units (linear) or contracts (inverse)
	Leverage         decimal.Decimal
	Margin           decimal.Decimal
	StopLoss         decimal.Decimal // zero means none
	TakeProfit       decimal.Decimal // zero means none
	LiquidationPrice decimal.Decimal
	OpenedAt         time.Time

	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// notional is the quote value of qty at price. Inverse contracts have a
// fixed quote value.
func notional(spec market.ContractSpec, qty, price decimal.Decimal) decimal.Decimal {
	if spec.IsInverse() {
		return qty.Mul(spec.ContractSize)
	}
	return qty.Mul(spec.ContractSize).Mul(price)
}

func (p Position) Notional() decimal.Decimal {
	return notional(p.Spec, p.Quantity, p.EntryPrice)
}

// PnLAt is the quote-currency profit of closing qty at price.
func (p Position) PnLAt(price, qty decimal.Decimal) decimal.Decimal {
	if p.Spec.IsInverse() {
		return precision.InversePnLQuote(p.EntryPrice, price, qty, p.Spec.ContractSize, decimal.Zero, p.Side.IsLong())
	}
	return precision.LinearPnL(p.EntryPrice, price, qty.Mul(p.Spec.ContractSize), p.Side.IsLong())
}

func (p *Position) mark(price decimal.Decimal) {
	p.MarkPrice = price
	p.UnrealizedPnL = p.PnLAt(price, p.Quantity)
}
