// Package indicators computes the technical indicators shown to the
// decision model alongside the raw bars.
//
// Values are float64: they are prompt context only and never feed into
// money arithmetic.
package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/llmtrader/market"
)

func closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

func checkPeriod(period, have, need int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	if have < need {
		return fmt.Errorf("not enough bars: need %d, got %d", need, have)
	}
	return nil
}

// MA calculates the Simple Moving Average of the last period closes.
func MA(bars []market.Bar, period int) (float64, error) {
	if err := checkPeriod(period, len(bars), period); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, c := range closes(bars[len(bars)-period:]) {
		sum += c
	}
	return sum / float64(period), nil
}

// EMA calculates the Exponential Moving Average for the given period,
// seeded with the SMA of the first period closes.
func EMA(bars []market.Bar, period int) (float64, error) {
	if err := checkPeriod(period, len(bars), period); err != nil {
		return 0, err
	}
	series := emaSeries(closes(bars), period)
	return series[len(series)-1], nil
}

// emaSeries returns the EMA for every index from period-1 on.
func emaSeries(values []float64, period int) []float64 {
	k := 2.0 / float64(period+1)
	sma := 0.0
	for _, v := range values[:period] {
		sma += v
	}
	ema := sma / float64(period)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// ATR calculates the Average True Range with Wilder smoothing.
// It needs period+1 bars because the true range uses the previous close.
func ATR(bars []market.Bar, period int) (float64, error) {
	if err := checkPeriod(period, len(bars), period+1); err != nil {
		return 0, err
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1]))
	}

	sum := 0.0
	for _, tr := range trs[:period] {
		sum += tr
	}
	atr := sum / float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, nil
}

func trueRange(cur, prev market.Bar) float64 {
	high, low, prevClose := cur.High.InexactFloat64(), cur.Low.InexactFloat64(), prev.Close.InexactFloat64()
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// RSI calculates the Relative Strength Index with Wilder smoothing.
// A window without losses reports 100.
func RSI(bars []market.Bar, period int) (float64, error) {
	if err := checkPeriod(period, len(bars), period+1); err != nil {
		return 0, err
	}
	c := closes(bars)
	var gain, loss float64
	for i := 1; i <= period; i++ {
		if d := c[i] - c[i-1]; d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	for i := period + 1; i < len(c); i++ {
		d := c[i] - c[i-1]
		g, l := math.Max(d, 0), math.Max(-d, 0)
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
	}

	if loss == 0 {
		return 100, nil
	}
	return 100 - 100/(1+gain/loss), nil
}

// MACD returns the MACD line (EMA fast minus EMA slow), its signal EMA and
// the histogram.
func MACD(bars []market.Bar, fast, slow, signal int) (line, sig, hist float64, err error) {
	if fast <= 0 || slow <= fast {
		return 0, 0, 0, fmt.Errorf("need 0 < fast < slow, got %d/%d", fast, slow)
	}
	if err := checkPeriod(signal, len(bars), slow+signal-1); err != nil {
		return 0, 0, 0, err
	}
	c := closes(bars)
	fastS := emaSeries(c, fast)[slow-fast:]
	slowS := emaSeries(c, slow)
	lines := make([]float64, len(slowS))
	for i := range slowS {
		lines[i] = fastS[i] - slowS[i]
	}
	sigS := emaSeries(lines, signal)
	line = lines[len(lines)-1]
	sig = sigS[len(sigS)-1]
	return line, sig, line - sig, nil
}
