package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ulikunitz/xz"
)

// CSVBarFeed reads OHLCV rows:
//
//	timestamp,open,high,low,close[,volume]
//
// where timestamp is RFC3339, RFC3339Nano, or unix seconds/milliseconds.
//
// Files ending in ".xz" are decompressed on the fly.
//
// It optionally filters bars to [From, To) if provided.
// Header row ("timestamp,..." or "time,...") is allowed.
// Empty/short rows are skipped.
type CSVBarFeed struct {
	f    *os.File
	r    *csv.Reader
	from time.Time
	to   time.Time

	sawFirst bool
}

func NewCSVBarFeed(path string, from, to time.Time) (*CSVBarFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var in io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		zr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("market: %s: %w", path, err)
		}
		in = zr
	}

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	return &CSVBarFeed{f: f, r: r, from: from, to: to}, nil
}

func (f *CSVBarFeed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

func (f *CSVBarFeed) Next() (Bar, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return Bar{}, false, nil
		}
		if err != nil {
			return Bar{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		// Allow a single header row
		if !f.sawFirst {
			f.sawFirst = true
			h := strings.ToLower(strings.TrimSpace(row[0]))
			if h == "time" || h == "timestamp" || h == "date" {
				continue
			}
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return Bar{}, false, err
		}
		if !ok {
			continue
		}
		if !inRange(b.Time, f.from, f.to) {
			continue
		}
		return b, true, nil
	}
}

// LoadBarsCSV reads every bar of a CSV file into memory.
func LoadBarsCSV(path string, from, to time.Time) ([]Bar, error) {
	feed, err := NewCSVBarFeed(path, from, to)
	if err != nil {
		return nil, fmt.Errorf("market: open bars: %w", err)
	}
	defer feed.Close()

	var bars []Bar
	for {
		b, ok, err := feed.Next()
		if err != nil {
			return nil, fmt.Errorf("market: read %s: %w", path, err)
		}
		if !ok {
			return bars, nil
		}
		bars = append(bars, b)
	}
}

func parseBarRow(row []string) (Bar, bool, error) {
	// Need at least: timestamp,open,high,low,close
	if len(row) < 5 {
		return Bar{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return Bar{}, false, nil
	}
	t, err := ParseTimestamp(ts)
	if err != nil {
		return Bar{}, false, err
	}

	var vals [5]decimal.Decimal
	n := 4
	if len(row) >= 6 {
		n = 5
	}
	for i := 0; i < n; i++ {
		v, err := decimal.NewFromString(strings.TrimSpace(row[i+1]))
		if err != nil {
			return Bar{}, false, fmt.Errorf("bad price %q: %w", row[i+1], err)
		}
		vals[i] = v
	}

	b := Bar{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	if err := b.Validate(); err != nil {
		return Bar{}, false, err
	}
	return b, true, nil
}

// ParseTimestamp accepts RFC3339, "2006-01-02 15:04:05" and "2006-01-02"
// (UTC), and unix seconds or milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
