package market

import (
	"fmt"
	"time"
)

// DataGapError reports a bar series that cannot be replayed: timestamps
// that do not strictly increase, or a hole wider than the tolerance.
type DataGapError struct {
	Symbol string
	Index  int
	Prev   time.Time
	Time   time.Time
	Reason string
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap: %s bar %d at %s (previous %s): %s",
		e.Symbol, e.Index, e.Time.Format(time.RFC3339), e.Prev.Format(time.RFC3339), e.Reason)
}

// CheckSeries verifies bars are strictly increasing and that consecutive bars
// are no more than (tolerance+1) timeframes apart. A zero step skips the gap
// check.
func CheckSeries(symbol string, bars []Bar, step time.Duration, tolerance int) error {
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Time, bars[i].Time
		if !cur.After(prev) {
			return &DataGapError{Symbol: symbol, Index: i, Prev: prev, Time: cur, Reason: "timestamps not strictly increasing"}
		}
		if step <= 0 {
			continue
		}
		if gap := cur.Sub(prev); gap > step*time.Duration(tolerance+1) {
			return &DataGapError{
				Symbol: symbol, Index: i, Prev: prev, Time: cur,
				Reason: fmt.Sprintf("gap of %s exceeds %d missing bar(s) of %s", gap, tolerance, step),
			}
		}
	}
	return nil
}
