package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/llmtrader/decision"
	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/portfolio"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func hour(n int) time.Time { return t0.Add(time.Duration(n) * time.Hour) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ohlc(n int, o, h, l, c string) market.Bar {
	return market.Bar{Time: hour(n), Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec("10")}
}

// threeBars is a steady rise from 50000 to 55000.
func threeBars() []market.Bar {
	return []market.Bar{
		ohlc(0, "49800", "50100", "49700", "50000"),
		ohlc(1, "50000", "53200", "49900", "53000"),
		ohlc(2, "53000", "55000", "52900", "55000"),
	}
}

func openLong(lev, size, stop, take string) map[string]any {
	return map[string]any{
		"symbol":            "BTCUSDT",
		"action":            "open_long",
		"leverage":          lev,
		"position_size_usd": size,
		"stop_loss":         stop,
		"take_profit":       take,
		"confidence":        80,
		"reasoning":         "breakout above resistance",
	}
}

func closeLong() map[string]any {
	return map[string]any{
		"symbol":     "BTCUSDT",
		"action":     "close_long",
		"confidence": 70,
		"reasoning":  "target reached",
	}
}

func fixture(t *testing.T, byHour map[int]map[string]any) *FixtureSource {
	t.Helper()
	var entries []FixtureEntry
	for h, d := range byHour {
		entries = append(entries, FixtureEntry{Timestamp: hour(h).Format(time.RFC3339), Decision: d})
	}
	fs, err := NewFixtureSource(entries)
	require.NoError(t, err)
	return fs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RunID = "RUN1"
	cfg.Policy.MaxLeverage = dec("10")
	cfg.CloseAtEnd = false
	cfg.DecisionTimeout = time.Second
	return cfg
}

func newEngine(t *testing.T, cfg Config, src DecisionSource) (*Engine, *journal.Memory) {
	t.Helper()
	j := journal.NewMemory()
	e, err := NewEngine(cfg, src, Options{Journal: j, Logger: quietLogger(), Source: "fixture"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, j
}

func TestEndToEndThreeBars(t *testing.T) {
	t.Parallel()

	src := fixture(t, map[int]map[string]any{
		0: openLong("10", "2000", "47500", "56000"),
		2: closeLong(),
	})
	e, j := newEngine(t, testConfig(), src)

	rep, err := e.Run(context.Background(), threeBars())
	require.NoError(t, err)

	require.Len(t, rep.Trades, 1)
	tr := rep.Trades[0]
	assert.True(t, tr.Quantity.Equal(dec("0.04")), "qty %s", tr.Quantity)
	assert.True(t, tr.PnL.Equal(dec("55000").Sub(dec("50000")).Mul(tr.Quantity)), "pnl %s", tr.PnL)
	assert.Equal(t, portfolio.ReasonSignal, tr.Reason)

	require.Len(t, rep.EquityCurve, 3)
	last := rep.EquityCurve[2]
	assert.True(t, last.Cash.Equal(dec("10000").Add(tr.PnL)), "cash %s", last.Cash)
	assert.True(t, rep.EquityCurve[1].TotalEquity.Equal(dec("10120")))
	assert.Zero(t, rep.Metrics.MaxDrawdownPct)
	assert.InDelta(t, 2.0, rep.Metrics.TotalReturnPct, 1e-9)

	assert.Equal(t, Counters{Bars: 3, Decisions: 2, Applied: 2, Waits: 1}, rep.Counters)
	require.Len(t, rep.Decisions, 3)
	assert.Equal(t, StatusApplied, rep.Decisions[0].Status)
	assert.Equal(t, decision.ActionOpenLong, rep.Decisions[0].Action)
	assert.Equal(t, StatusWait, rep.Decisions[1].Status)
	assert.Equal(t, decision.ActionCloseLong, rep.Decisions[2].Action)

	run, err := j.GetBacktestRun(context.Background(), "RUN1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Trades)
	assert.Equal(t, "fixture", run.Source)
	assert.True(t, run.NetPL.Equal(dec("200")))

	st := e.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 3, st.Bar)
	assert.Equal(t, hour(2), st.LastBar)
	assert.True(t, st.Equity.Equal(dec("10200")))
	assert.Empty(t, st.Err)
}

func TestLiquidationDuringReplay(t *testing.T) {
	t.Parallel()

	src := fixture(t, map[int]map[string]any{
		0: openLong("10", "2000", "45000", "62000"),
	})
	e, _ := newEngine(t, testConfig(), src)

	bars := []market.Bar{
		ohlc(0, "49800", "50100", "49700", "50000"),
		ohlc(1, "46000", "46000", "45100", "45500"),
	}
	rep, err := e.Run(context.Background(), bars)
	require.NoError(t, err)

	require.Len(t, rep.Trades, 1)
	tr := rep.Trades[0]
	assert.Equal(t, portfolio.ReasonLiquidation, tr.Reason)
	assert.True(t, tr.ExitPrice.Equal(dec("45200")), "exit %s", tr.ExitPrice)
	assert.True(t, tr.PnL.Equal(dec("-192")), "pnl %s", tr.PnL)
	assert.Equal(t, 1, rep.Counters.Liquidations)
	assert.True(t, rep.EquityCurve[1].TotalEquity.Equal(dec("9808")))
}

func TestDecisionFailuresBecomeWaits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    DecisionSource
		status DecisionStatus
		check  func(t *testing.T, c Counters, entry DecisionEntry)
	}{
		{
			name:   "unparseable output",
			src:    SourceFunc(func(context.Context, Request) (string, error) { return "I think it goes up.", nil }),
			status: StatusFallback,
			check: func(t *testing.T, c Counters, entry DecisionEntry) {
				assert.Equal(t, 1, c.ParseFailures)
				assert.Equal(t, 1, c.Fallbacks)
				assert.Equal(t, decision.ActionWait, entry.Action)
			},
		},
		{
			name: "leverage above policy",
			src: mustFixture(map[int]map[string]any{
				0: openLong("20", "2000", "47500", "56000"),
			}),
			status: StatusRejected,
			check: func(t *testing.T, c Counters, entry DecisionEntry) {
				assert.Equal(t, 1, c.ValidationFailures)
				assert.Contains(t, strings.Join(entry.Errors, "\n"), "leverage")
			},
		},
		{
			name:   "source error",
			src:    SourceFunc(func(context.Context, Request) (string, error) { return "", errors.New("connection reset") }),
			status: StatusOracleError,
			check: func(t *testing.T, c Counters, entry DecisionEntry) {
				assert.Equal(t, 1, c.OracleErrors)
				assert.Equal(t, 1, c.Fallbacks)
				assert.Contains(t, entry.Errors[0], "connection reset")
			},
		},
		{
			name: "source times out",
			src: SourceFunc(func(ctx context.Context, _ Request) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
			status: StatusOracleError,
			check: func(t *testing.T, c Counters, entry DecisionEntry) {
				assert.Contains(t, entry.Errors[0], context.DeadlineExceeded.Error())
			},
		},
		{
			name: "close without position",
			src: mustFixture(map[int]map[string]any{
				0: closeLong(),
			}),
			status: StatusRejected,
			check: func(t *testing.T, c Counters, entry DecisionEntry) {
				assert.Equal(t, 1, c.RejectedOrders)
			},
		},
		{
			name: "other symbol",
			src: mustFixture(map[int]map[string]any{
				0: {"symbol": "ETHUSDT", "action": "hold", "confidence": 50, "reasoning": "x"},
			}),
			status: StatusRejected,
			check: func(t *testing.T, c Counters, entry DecisionEntry) {
				assert.Contains(t, entry.Errors[0], "ETHUSDT")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.DecisionTimeout = 20 * time.Millisecond
			if tt.name == "leverage above policy" {
				cfg.Policy.MaxLeverage = dec("5")
			}
			e, _ := newEngine(t, cfg, tt.src)

			rep, err := e.Run(context.Background(), threeBars()[:1])
			require.NoError(t, err)
			require.Len(t, rep.Decisions, 1)
			assert.Equal(t, tt.status, rep.Decisions[0].Status)
			assert.Empty(t, rep.Trades)
			assert.True(t, rep.EquityCurve[0].TotalEquity.Equal(dec("10000")))
			tt.check(t, rep.Counters, rep.Decisions[0])
		})
	}
}

func TestDecisionTimeoutBoundsBlockingSource(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	src := SourceFunc(func(context.Context, Request) (string, error) {
		<-release
		return "", nil
	})
	cfg := testConfig()
	cfg.DecisionTimeout = 20 * time.Millisecond
	e, _ := newEngine(t, cfg, src)

	start := time.Now()
	rep, err := e.Run(context.Background(), threeBars())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 3, rep.Counters.OracleErrors)
	for _, d := range rep.Decisions {
		assert.Equal(t, StatusOracleError, d.Status)
	}
}

func TestPositionLimitCountsAdds(t *testing.T) {
	t.Parallel()

	src := fixture(t, map[int]map[string]any{
		0: openLong("10", "3000", "47500", "56000"),
		1: openLong("10", "3000", "50000", "60000"),
		2: openLong("10", "3000", "52000", "62000"),
	})
	e, _ := newEngine(t, testConfig(), src)

	rep, err := e.Run(context.Background(), threeBars())
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, rep.Decisions[0].Status)
	for _, d := range rep.Decisions[1:] {
		assert.Equal(t, StatusRejected, d.Status)
		assert.Contains(t, strings.Join(d.Errors, "\n"), "already held")
	}
	assert.Equal(t, 2, rep.Counters.ValidationFailures)

	pos, ok := e.Portfolio().Position("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Notional().Equal(dec("3000")), "notional %s", pos.Notional())
}

func mustFixture(byHour map[int]map[string]any) *FixtureSource {
	var entries []FixtureEntry
	for h, d := range byHour {
		entries = append(entries, FixtureEntry{Timestamp: hour(h).Format(time.RFC3339), Decision: d})
	}
	fs, err := NewFixtureSource(entries)
	if err != nil {
		panic(err)
	}
	return fs
}

func TestDataGapAbortsRun(t *testing.T) {
	t.Parallel()

	bars := threeBars()
	bars[2].Time = hour(4)

	e, _ := newEngine(t, testConfig(), mustFixture(nil))
	rep, err := e.Run(context.Background(), bars)
	assert.Nil(t, rep)

	var gap *market.DataGapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, "BTCUSDT", gap.Symbol)
	assert.Equal(t, 2, gap.Index)
	assert.Empty(t, e.Portfolio().EquityCurve(), "no bar is replayed")
	assert.NotEmpty(t, e.Status().Err)
}

func TestGapTolerance(t *testing.T) {
	t.Parallel()

	bars := threeBars()
	bars[2].Time = hour(3)

	cfg := testConfig()
	cfg.GapTolerance = 1
	e, _ := newEngine(t, cfg, mustFixture(nil))
	_, err := e.Run(context.Background(), bars)
	assert.NoError(t, err)
}

func TestInvalidBarAbortsRun(t *testing.T) {
	t.Parallel()

	bars := threeBars()
	bars[1].High = dec("1")

	e, _ := newEngine(t, testConfig(), mustFixture(nil))
	_, err := e.Run(context.Background(), bars)
	var gap *market.DataGapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, 1, gap.Index)
}

func TestCancelledBetweenBars(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	src := SourceFunc(func(context.Context, Request) (string, error) {
		calls++
		cancel()
		return "", ErrNoDecision
	})

	e, _ := newEngine(t, testConfig(), src)
	_, err := e.Run(ctx, threeBars())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Len(t, e.Portfolio().EquityCurve(), 1, "the first bar completes")
}

func TestCloseAtEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CloseAtEnd = true
	src := fixture(t, map[int]map[string]any{
		0: openLong("10", "2000", "47500", "56000"),
	})
	e, _ := newEngine(t, cfg, src)

	rep, err := e.Run(context.Background(), threeBars())
	require.NoError(t, err)
	require.Len(t, rep.Trades, 1)
	assert.Equal(t, portfolio.ReasonEndOfRun, rep.Trades[0].Reason)
	assert.True(t, rep.Trades[0].ExitPrice.Equal(dec("55000")))
	assert.Empty(t, e.Portfolio().Positions())
}

func TestRequestCarriesState(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Lookback = 2
	var seen []Request
	open, err := WireFormat("", openLong("10", "2000", "47500", "56000"))
	require.NoError(t, err)
	src := SourceFunc(func(_ context.Context, req Request) (string, error) {
		seen = append(seen, req)
		if req.Index == 0 {
			return open, nil
		}
		return "", ErrNoDecision
	})

	e, _ := newEngine(t, cfg, src)
	_, err = e.Run(context.Background(), threeBars())
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Nil(t, seen[0].Position)
	assert.Len(t, seen[0].Recent, 1)
	require.NotNil(t, seen[1].Position)
	assert.Equal(t, portfolio.Long, seen[1].Position.Side)
	assert.Len(t, seen[2].Recent, 2)
	assert.Equal(t, hour(2), seen[2].Recent[1].Time)
	assert.True(t, seen[1].Available.Equal(dec("9800")))
}

func TestRunsAreDeterministic(t *testing.T) {
	t.Parallel()

	run := func() *Report {
		src := mustFixture(map[int]map[string]any{
			0: openLong("10", "2000", "47500", "56000"),
			2: closeLong(),
		})
		e, _ := newEngine(t, testConfig(), src)
		rep, err := e.Run(context.Background(), threeBars())
		require.NoError(t, err)
		return rep
	}

	a, b := run(), run()
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestEngineIsSingleUse(t *testing.T) {
	t.Parallel()

	e, _ := newEngine(t, testConfig(), mustFixture(nil))
	_, err := e.Run(context.Background(), threeBars())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), threeBars())
	assert.ErrorIs(t, err, ErrEngineRan)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestNewEngineValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(testConfig(), nil, Options{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Symbol = "DOGEUSDT"
	_, err = NewEngine(cfg, mustFixture(nil), Options{})
	assert.ErrorIs(t, err, market.ErrUnknownSymbol)

	cfg = testConfig()
	cfg.Timeframe = "7x"
	_, err = NewEngine(cfg, mustFixture(nil), Options{})
	assert.Error(t, err)
}
