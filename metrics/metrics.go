// Package metrics derives risk and return statistics from a finished run.
// Everything here is a pure function of the equity curve and trade ledger.
package metrics

import (
	"math"
	"time"

	"github.com/rustyeddy/llmtrader/portfolio"
	"github.com/shopspring/decimal"
)

// SideStats are the trade statistics of one side.
type SideStats struct {
	Trades       int             `json:"trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRatePct   float64         `json:"win_rate"`
	ProfitFactor float64         `json:"profit_factor"`
	PnL          decimal.Decimal `json:"pnl"`
}

type Result struct {
	InitialEquity decimal.Decimal `json:"initial_equity"`
	FinalEquity   decimal.Decimal `json:"final_equity"`
	RealizedPnL   decimal.Decimal `json:"total_realized_pnl"`

	TotalReturnPct      float64 `json:"total_return"`
	AnnualizedReturnPct float64 `json:"annualized_return"`
	VolatilityPct       float64 `json:"volatility"`

	MaxDrawdownPct      float64       `json:"max_drawdown_pct"`
	MaxDrawdownBars     int           `json:"max_drawdown_bars"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`

	Sharpe  float64 `json:"sharpe_ratio"`
	Sortino float64 `json:"sortino_ratio"`
	Calmar  float64 `json:"calmar_ratio"`

	TotalTrades     int       `json:"total_trades"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	WinRatePct      float64   `json:"win_rate"`
	ProfitFactor    float64   `json:"profit_factor"`
	AvgHoldingHours float64   `json:"avg_holding_time_hours"`
	Long            SideStats `json:"long"`
	Short           SideStats `json:"short"`

	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
	Bars  int       `json:"bars"`
}

// Compute builds a Result. periodsPerYear is the number of curve points in a
// year (8760 for hourly bars). Undefined ratios are reported as 0.
func Compute(curve []portfolio.EquityPoint, trades []portfolio.Trade, initial decimal.Decimal, periodsPerYear float64) Result {
	r := Result{
		InitialEquity: initial,
		FinalEquity:   initial,
		Bars:          len(curve),
	}
	if len(curve) > 0 {
		r.FinalEquity = curve[len(curve)-1].TotalEquity
		r.Start = curve[0].Time
		r.End = curve[len(curve)-1].Time
	}

	if initial.IsPositive() {
		r.TotalReturnPct = r.FinalEquity.Div(initial).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).InexactFloat64()
		r.AnnualizedReturnPct = annualize(r.FinalEquity.Div(initial).InexactFloat64(), len(curve)-1, periodsPerYear)
	}

	for _, e := range curve {
		if dd := e.DrawdownPct.InexactFloat64(); dd > r.MaxDrawdownPct {
			r.MaxDrawdownPct = dd
		}
	}
	r.MaxDrawdownBars, r.MaxDrawdownDuration = drawdownDuration(curve, initial)

	rets := returns(curve)
	scale := math.Sqrt(periodsPerYear)
	if periodsPerYear <= 0 {
		scale = 1
	}
	avg := mean(rets)
	if sd := sampleStdDev(rets); sd > 0 {
		r.Sharpe = finite(avg / sd * scale)
		r.VolatilityPct = finite(sd * scale * 100)
	}
	if dd := downsideDev(rets); dd > 0 {
		r.Sortino = finite(avg / dd * scale)
	}
	if r.MaxDrawdownPct > 0 {
		r.Calmar = finite(r.AnnualizedReturnPct / r.MaxDrawdownPct)
	}

	all := tradeStats(trades, func(portfolio.Trade) bool { return true })
	r.TotalTrades = all.Trades
	r.Wins = all.Wins
	r.Losses = all.Losses
	r.WinRatePct = all.WinRatePct
	r.ProfitFactor = all.ProfitFactor
	r.RealizedPnL = all.PnL
	r.Long = tradeStats(trades, func(t portfolio.Trade) bool { return t.Side == portfolio.Long })
	r.Short = tradeStats(trades, func(t portfolio.Trade) bool { return t.Side == portfolio.Short })

	if len(trades) > 0 {
		var held time.Duration
		for _, t := range trades {
			held += t.HoldingTime
		}
		r.AvgHoldingHours = held.Hours() / float64(len(trades))
	}
	return r
}

func tradeStats(trades []portfolio.Trade, keep func(portfolio.Trade) bool) SideStats {
	s := SideStats{PnL: decimal.Zero}
	gross, loss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		if !keep(t) {
			continue
		}
		s.Trades++
		s.PnL = s.PnL.Add(t.PnL)
		switch {
		case t.PnL.IsPositive():
			s.Wins++
			gross = gross.Add(t.PnL)
		case t.PnL.IsNegative():
			s.Losses++
			loss = loss.Add(t.PnL.Abs())
		}
	}
	if s.Trades > 0 {
		s.WinRatePct = float64(s.Wins) / float64(s.Trades) * 100
	}
	if loss.IsPositive() {
		s.ProfitFactor = gross.Div(loss).InexactFloat64()
	}
	return s
}

// drawdownDuration is the longest stretch from a peak to the point equity
// got back to it. A drawdown still open at the end counts up to the last
// point.
func drawdownDuration(curve []portfolio.EquityPoint, initial decimal.Decimal) (int, time.Duration) {
	if len(curve) == 0 {
		return 0, 0
	}
	var (
		maxBars int
		maxDur  time.Duration
		peakIdx int
		under   bool
	)
	peak, peakTime := initial, curve[0].Time
	mark := func(i int, t time.Time) {
		if bars := i - peakIdx; bars > maxBars {
			maxBars = bars
		}
		if d := t.Sub(peakTime); d > maxDur {
			maxDur = d
		}
	}
	for i, e := range curve {
		if e.TotalEquity.GreaterThanOrEqual(peak) {
			if under {
				mark(i, e.Time)
				under = false
			}
			peak, peakIdx, peakTime = e.TotalEquity, i, e.Time
			continue
		}
		under = true
	}
	if under {
		last := len(curve) - 1
		mark(last, curve[last].Time)
	}
	return maxBars, maxDur
}

func returns(curve []portfolio.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalEquity
		if !prev.IsPositive() {
			continue
		}
		out = append(out, curve[i].TotalEquity.Div(prev).InexactFloat64()-1)
	}
	return out
}

func annualize(growth float64, periods int, periodsPerYear float64) float64 {
	if periods <= 0 || periodsPerYear <= 0 {
		return 0
	}
	if growth <= 0 {
		return -100
	}
	years := float64(periods) / periodsPerYear
	return finite((math.Pow(growth, 1/years) - 1) * 100)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func sampleStdDev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	avg := mean(v)
	var sum float64
	for _, x := range v {
		sum += (x - avg) * (x - avg)
	}
	return math.Sqrt(sum / float64(len(v)-1))
}

// downsideDev only counts returns below zero, over all periods.
func downsideDev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		if x < 0 {
			sum += x * x
		}
	}
	return math.Sqrt(sum / float64(len(v)))
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
