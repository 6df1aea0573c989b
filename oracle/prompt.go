package oracle

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/indicators"
	"github.com/rustyeddy/llmtrader/risk"
)

const systemPromptTemplate = `You are a disciplined crypto futures trader. You decide one action per bar.

Reply with exactly two XML sections, <reasoning> and <decision>:

<reasoning>
A short analysis of trend, momentum and risk.
</reasoning>

<decision>
` + "```json" + `
[{
  "symbol": "BTCUSDT",
  "action": "open_long",
  "leverage": 2,
  "position_size_usd": 200.0,
  "stop_loss": 84710.0,
  "take_profit": 88580.0,
  "confidence": 75,
  "reasoning": "one sentence summary"
}]
` + "```" + `
</decision>

Format rules (a reply that breaks them is discarded):
1. Both <reasoning> and <decision> tags are required.
2. The JSON is wrapped in a ` + "```json" + ` block and is an array starting with [{.
3. No ranges such as "85000~86000" and no thousands separators such as "84,710".
4. No comments inside the JSON. Every number is a plain computed value.

Actions: open_long, open_short, close_long, close_short, hold, wait.
open_long and open_short also need leverage, position_size_usd, stop_loss and take_profit.

Risk limits:
- leverage between 1 and %s
- position_size_usd at most %s%% of equity
- long: stop_loss < entry < take_profit; short: take_profit < entry < stop_loss
- reward/risk of at least %s`

// SystemPrompt states the wire format and the hard limits of p.
func SystemPrompt(p risk.Policy) string {
	return fmt.Sprintf(systemPromptTemplate, p.MaxLeverage, p.MaxPositionPct, p.MinRiskReward)
}

// UserPrompt renders the market state of one bar.
func UserPrompt(req backtest.Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Market: %s %s\n", req.Symbol, req.Timeframe)
	fmt.Fprintf(&b, "Time: %s\n", req.Bar.Time.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "Price: %s\n\n", req.Bar.Close)

	fmt.Fprintf(&b, "## Recent bars (oldest first)\n")
	fmt.Fprintf(&b, "time,open,high,low,close,volume\n")
	for _, bar := range req.Recent {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s\n",
			bar.Time.UTC().Format("2006-01-02T15:04"), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}

	if snap := indicators.Compute(req.Recent); !snap.Empty() {
		fmt.Fprintf(&b, "\n## Indicators\n")
		_, _ = snap.WriteTo(&b)
	}

	fmt.Fprintf(&b, "\n## Account\n")
	fmt.Fprintf(&b, "Equity: %s\n", req.Equity.StringFixed(2))
	fmt.Fprintf(&b, "Available: %s\n", req.Available.StringFixed(2))

	if p := req.Position; p != nil {
		fmt.Fprintf(&b, "Position: %s %s qty=%s entry=%s leverage=%sx sl=%s tp=%s liq=%s upnl=%s\n",
			p.Side, p.Symbol, p.Quantity, p.EntryPrice, p.Leverage,
			p.StopLoss, p.TakeProfit, p.LiquidationPrice, p.UnrealizedPnL.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "Position: none\n")
	}

	fmt.Fprintf(&b, "\nDecide the next action for %s.\n", req.Symbol)
	return b.String()
}
