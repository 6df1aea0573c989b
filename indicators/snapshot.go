package indicators

import (
	"fmt"
	"io"

	"github.com/rustyeddy/llmtrader/market"
)

// Snapshot is the indicator set computed for one decision request.
// Fields whose window is not filled yet are nil.
type Snapshot struct {
	EMA12    *float64
	EMA26    *float64
	RSI14    *float64
	ATR14    *float64
	MACDHist *float64
}

// Compute fills every indicator the bars allow.
func Compute(bars []market.Bar) Snapshot {
	var s Snapshot
	if v, err := EMA(bars, 12); err == nil {
		s.EMA12 = &v
	}
	if v, err := EMA(bars, 26); err == nil {
		s.EMA26 = &v
	}
	if v, err := RSI(bars, 14); err == nil {
		s.RSI14 = &v
	}
	if v, err := ATR(bars, 14); err == nil {
		s.ATR14 = &v
	}
	if _, _, h, err := MACD(bars, 12, 26, 9); err == nil {
		s.MACDHist = &h
	}
	return s
}

// Empty reports whether no indicator could be computed.
func (s Snapshot) Empty() bool {
	return s.EMA12 == nil && s.EMA26 == nil && s.RSI14 == nil && s.ATR14 == nil && s.MACDHist == nil
}

// WriteTo writes one "NAME: value" line per computed indicator.
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, row := range []struct {
		name string
		v    *float64
	}{
		{"EMA12", s.EMA12},
		{"EMA26", s.EMA26},
		{"RSI14", s.RSI14},
		{"ATR14", s.ATR14},
		{"MACD_HIST", s.MACDHist},
	} {
		if row.v == nil {
			continue
		}
		n, err := fmt.Fprintf(w, "%s: %.2f\n", row.name, *row.v)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
