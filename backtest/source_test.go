package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlFixture = `
- timestamp: "2024-03-01T00:00:00Z"
  reasoning: momentum is strong
  decision:
    symbol: BTCUSDT
    action: open_long
    leverage: 3
    position_size_usd: "1,500"
    stop_loss: "47000~47500"
    take_profit: 56000
    confidence: 75
- timestamp: "1709254800"
  response: |
    <reasoning>nothing to do</reasoning>
    <decision>
    ` + "```json" + `
    [{"symbol": "BTCUSDT", "action": "wait", "confidence": 10, "reasoning": "flat"}]
    ` + "```" + `
    </decision>
`

const jsonFixture = `[
  {"timestamp": "2024-03-01T00:00:00Z", "decision": {"symbol": "BTCUSDT", "action": "hold", "confidence": 50, "reasoning": "keep"}}
]`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFixtureYAML(t *testing.T) {
	t.Parallel()

	fs, err := LoadFixture(writeFile(t, "decisions.yaml", yamlFixture))
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Len())

	text, err := fs.Decide(context.Background(), Request{Bar: market.Bar{Time: hour(0)}})
	require.NoError(t, err)
	assert.Contains(t, text, "momentum is strong")

	out := decision.Sanitize(text)
	require.Equal(t, decision.Sanitized, out.Kind)
	assert.Equal(t, "momentum is strong", out.Reasoning)
	assert.Equal(t, decision.ActionOpenLong, out.Fields.Action())
	assert.Equal(t, "1500", out.Fields.Text(decision.FieldSizeUSD))
	assert.Equal(t, "47000", out.Fields.Text(decision.FieldStopLoss))

	text, err = fs.Decide(context.Background(), Request{Bar: market.Bar{Time: hour(1)}})
	require.NoError(t, err)
	out = decision.Sanitize(text)
	require.Equal(t, decision.Sanitized, out.Kind)
	assert.Equal(t, decision.ActionWait, out.Fields.Action())
	assert.False(t, out.Fields.IsFallback())

	_, err = fs.Decide(context.Background(), Request{Bar: market.Bar{Time: hour(2)}})
	assert.ErrorIs(t, err, ErrNoDecision)
}

func TestLoadFixtureJSON(t *testing.T) {
	t.Parallel()

	fs, err := LoadFixture(writeFile(t, "decisions.json", jsonFixture))
	require.NoError(t, err)

	text, err := fs.Decide(context.Background(), Request{Bar: market.Bar{Time: hour(0)}})
	require.NoError(t, err)
	assert.Equal(t, decision.ActionHold, decision.Sanitize(text).Fields.Action())
}

func TestLoadFixtureErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"bad timestamp", `[{"timestamp": "yesterday", "response": "x"}]`},
		{"empty entry", `[{"timestamp": "2024-03-01T00:00:00Z"}]`},
		{"not a list", `{"timestamp": "2024-03-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFixture(writeFile(t, "f.json", tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWireFormatUsesDecisionReasoning(t *testing.T) {
	t.Parallel()

	text, err := WireFormat("", closeLong())
	require.NoError(t, err)
	out := decision.Sanitize(text)
	require.Equal(t, decision.Sanitized, out.Kind)
	assert.Equal(t, "target reached", out.Reasoning)
	assert.Equal(t, decision.ActionCloseLong, out.Fields.Action())
}

func TestWireFormatFillsEntryReasoning(t *testing.T) {
	t.Parallel()

	d := openLong("5", "2000", "47500", "56000")
	delete(d, "reasoning")

	text, err := WireFormat("breakout", d)
	require.NoError(t, err)
	out := decision.Sanitize(text)
	require.Equal(t, decision.Sanitized, out.Kind)
	assert.Equal(t, "breakout", out.Fields.Text(decision.FieldReasoning))
	assert.NotContains(t, d, "reasoning")

	res := risk.Validate(out.Fields, risk.DefaultPolicy(), risk.Quote{EntryPrice: dec("50000"), Equity: dec("10000")})
	assert.True(t, res.OK, "violations: %v", res.Errors())

	d["reasoning"] = "own words"
	text, err = WireFormat("breakout", d)
	require.NoError(t, err)
	assert.Equal(t, "own words", decision.Sanitize(text).Fields.Text(decision.FieldReasoning))
}

func TestRecent(t *testing.T) {
	t.Parallel()

	bars := threeBars()
	assert.Len(t, recent(bars, 2, 10), 3)
	assert.Len(t, recent(bars, 2, 1), 1)
	assert.Empty(t, recent(bars, 1, 0))
}
