package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/portfolio"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrNoDecision is returned by a source that has nothing to say for a bar.
// The engine treats it as a plain wait, not a failure.
var ErrNoDecision = errors.New("backtest: no decision for bar")

// Request is what a decision source sees for one bar.
type Request struct {
	RunID     string
	Symbol    string
	Timeframe string
	Index     int
	Bar       market.Bar
	Recent    []market.Bar // oldest first, ending with Bar
	Position  *portfolio.Position
	Equity    decimal.Decimal
	Available decimal.Decimal
}

// DecisionSource produces the raw generator text for a bar.
type DecisionSource interface {
	Decide(ctx context.Context, req Request) (string, error)
}

// SourceFunc adapts a function to DecisionSource.
type SourceFunc func(ctx context.Context, req Request) (string, error)

func (f SourceFunc) Decide(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// FixtureEntry is one precomputed decision. Response holds raw generator
// text; Decision holds a structured record that is rendered into the wire
// format before it is sanitized.
type FixtureEntry struct {
	Timestamp string         `json:"timestamp" yaml:"timestamp"`
	Response  string         `json:"response,omitempty" yaml:"response,omitempty"`
	Reasoning string         `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Decision  map[string]any `json:"decision,omitempty" yaml:"decision,omitempty"`
}

// FixtureSource replays decisions keyed by bar time.
type FixtureSource struct {
	byTime map[int64]string
}

// LoadFixture reads a YAML or JSON list of FixtureEntry.
func LoadFixture(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: read fixture: %w", err)
	}

	var entries []FixtureEntry
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = json.Unmarshal(data, &entries)
	} else {
		err = yaml.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("backtest: parse fixture %s: %w", path, err)
	}
	return NewFixtureSource(entries)
}

func NewFixtureSource(entries []FixtureEntry) (*FixtureSource, error) {
	fs := &FixtureSource{byTime: make(map[int64]string, len(entries))}
	for i, e := range entries {
		ts, err := market.ParseTimestamp(e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("backtest: fixture entry %d: %w", i, err)
		}
		text := e.Response
		if text == "" && e.Decision != nil {
			text, err = WireFormat(e.Reasoning, e.Decision)
			if err != nil {
				return nil, fmt.Errorf("backtest: fixture entry %d: %w", i, err)
			}
		}
		if text == "" {
			return nil, fmt.Errorf("backtest: fixture entry %d: needs a response or a decision", i)
		}
		fs.byTime[ts.UnixNano()] = text
	}
	return fs, nil
}

func (fs *FixtureSource) Len() int { return len(fs.byTime) }

func (fs *FixtureSource) Decide(_ context.Context, req Request) (string, error) {
	text, ok := fs.byTime[req.Bar.Time.UnixNano()]
	if !ok {
		return "", ErrNoDecision
	}
	return text, nil
}

// WireFormat renders a structured decision the way the generator is asked
// to answer: a reasoning section and a decision section holding a fenced
// JSON array with one object. An entry-level reasoning fills in a decision
// that has none.
func WireFormat(reasoning string, d map[string]any) (string, error) {
	obj := make(map[string]any, len(d)+1)
	for k, v := range d {
		obj[k] = v
	}
	if _, ok := obj["reasoning"]; !ok && reasoning != "" {
		obj["reasoning"] = reasoning
	}
	if reasoning == "" {
		if r, ok := obj["reasoning"].(string); ok {
			reasoning = r
		}
	}

	b, err := json.MarshalIndent([]map[string]any{obj}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render decision: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("<reasoning>\n")
	sb.WriteString(reasoning)
	sb.WriteString("\n</reasoning>\n\n<decision>\n```json\n")
	sb.Write(b)
	sb.WriteString("\n```\n</decision>\n")
	return sb.String(), nil
}

// recent returns up to n bars ending at index i.
func recent(bars []market.Bar, i, n int) []market.Bar {
	start := i + 1 - n
	if start < 0 {
		start = 0
	}
	return bars[start : i+1]
}
