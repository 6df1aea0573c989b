// Package precision holds the exact decimal helpers used for every monetary
// quantity in the simulator. Nothing in here touches float64.
package precision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Hundred is 100 as a decimal, handy for percentage math.
func Hundred() decimal.Decimal { return hundred }

// Parse converts a string to a decimal. Surrounding whitespace is ignored.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("precision: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// truncate snaps v onto the step grid, rounding toward zero.
func truncate(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Truncate(0).Mul(step)
}

// RoundPrice truncates price to a multiple of tick. A non-positive tick
// leaves the price untouched.
func RoundPrice(price, tick decimal.Decimal) decimal.Decimal {
	return truncate(price, tick)
}

// RoundQty truncates qty to a multiple of step.
func RoundQty(qty, step decimal.Decimal) decimal.Decimal {
	return truncate(qty, step)
}

// LinearPnL is the cash-settled profit of a position of qty base units.
func LinearPnL(entry, exit, qty decimal.Decimal, isLong bool) decimal.Decimal {
	if isLong {
		return exit.Sub(entry).Mul(qty)
	}
	return entry.Sub(exit).Mul(qty)
}

// InversePnL is the coin-settled profit of an inverse position, denominated
// in the base coin.
//
//	long:  (1/entry - 1/exit) * contracts * contractSize
//	short: (1/exit - 1/entry) * contracts * contractSize
func InversePnL(entry, exit, contracts, contractSize decimal.Decimal, isLong bool) decimal.Decimal {
	if entry.IsZero() || exit.IsZero() {
		return decimal.Zero
	}
	if entry.Equal(exit) {
		return decimal.Zero
	}
	invEntry := one.Div(entry)
	invExit := one.Div(exit)
	notional := contracts.Mul(contractSize)
	if isLong {
		return invEntry.Sub(invExit).Mul(notional)
	}
	return invExit.Sub(invEntry).Mul(notional)
}

// InversePnLQuote converts InversePnL into quote currency at settle. A zero
// settle price means "settle at exit".
func InversePnLQuote(entry, exit, contracts, contractSize, settle decimal.Decimal, isLong bool) decimal.Decimal {
	if settle.IsZero() {
		settle = exit
	}
	return InversePnL(entry, exit, contracts, contractSize, isLong).Mul(settle)
}

// LiquidationPrice returns the price at which a position opened at entry
// with the given leverage is forcibly closed.
//
//	long:  entry * (1 - 1/leverage + mmr)
//	short: entry * (1 + 1/leverage - mmr)
//
// Inverse contracts use the same formula; it is an approximation for them.
func LiquidationPrice(entry, leverage decimal.Decimal, isLong bool, mmr decimal.Decimal) decimal.Decimal {
	if leverage.Sign() <= 0 {
		return decimal.Zero
	}
	inv := one.Div(leverage)
	if isLong {
		return entry.Mul(one.Sub(inv).Add(mmr))
	}
	return entry.Mul(one.Add(inv).Sub(mmr))
}

// LiquidationLevel is LiquidationPrice snapped onto the tick grid away from
// entry: down for longs, up for shorts. The level never sits closer to
// entry than the formula.
func LiquidationLevel(entry, leverage decimal.Decimal, isLong bool, mmr, tick decimal.Decimal) decimal.Decimal {
	liq := LiquidationPrice(entry, leverage, isLong, mmr)
	if isLong || tick.Sign() <= 0 {
		return truncate(liq, tick)
	}
	return liq.Div(tick).Ceil().Mul(tick)
}

// Pct returns part/whole*100, or zero when whole is zero.
func Pct(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
