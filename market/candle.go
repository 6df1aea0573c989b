package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle. Time is the bar open time.
type Bar struct {
	Time   time.Time       `json:"timestamp" yaml:"timestamp"`
	Open   decimal.Decimal `json:"open" yaml:"open"`
	High   decimal.Decimal `json:"high" yaml:"high"`
	Low    decimal.Decimal `json:"low" yaml:"low"`
	Close  decimal.Decimal `json:"close" yaml:"close"`
	Volume decimal.Decimal `json:"volume" yaml:"volume"`
}

// PriceBar returns a flat bar where every price equals p.
func PriceBar(t time.Time, p decimal.Decimal) Bar {
	return Bar{Time: t, Open: p, High: p, Low: p, Close: p}
}

func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("market: bar has no timestamp")
	}
	if !b.Low.IsPositive() {
		return fmt.Errorf("market: bar %s: low must be positive", b.Time.Format(time.RFC3339))
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("market: bar %s: high %s below low %s", b.Time.Format(time.RFC3339), b.High, b.Low)
	}
	for _, p := range []decimal.Decimal{b.Open, b.Close} {
		if p.LessThan(b.Low) || p.GreaterThan(b.High) {
			return fmt.Errorf("market: bar %s: open/close outside [low, high]", b.Time.Format(time.RFC3339))
		}
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("market: bar %s: negative volume", b.Time.Format(time.RFC3339))
	}
	return nil
}
