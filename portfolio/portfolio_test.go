package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/pkg/id"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func hour(n int) time.Time { return t0.Add(time.Duration(n) * time.Hour) }

func bar(n int, open, high, low, close string) market.Bar {
	return market.Bar{
		Time:  hour(n),
		Open:  dec(open),
		High:  dec(high),
		Low:   dec(low),
		Close: dec(close),
	}
}

func newPortfolio(t *testing.T, capital string, j journal.Journal) *Portfolio {
	t.Helper()
	p, err := New(Config{
		RunID:                 "RUN1",
		InitialCapital:        dec(capital),
		MaintenanceMarginRate: dec("0.004"),
		Journal:               j,
	})
	require.NoError(t, err)
	return p
}

func openBTC(t *testing.T, p *Portfolio, side Side, stop, take string) Position {
	t.Helper()
	pos, err := p.Open(OpenRequest{
		Symbol:     "BTCUSDT",
		Side:       side,
		Price:      dec("50000"),
		Leverage:   dec("10"),
		SizeUSD:    dec("2000"),
		StopLoss:   dec(stop),
		TakeProfit: dec(take),
		Time:       hour(0),
	})
	require.NoError(t, err)
	return pos
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{InitialCapital: decimal.Zero})
	assert.Error(t, err)

	_, err = New(Config{InitialCapital: dec("100"), MaintenanceMarginRate: dec("1")})
	assert.Error(t, err)
}

func TestOpenMarkClose(t *testing.T) {
	t.Parallel()
	j := journal.NewMemory()
	p := newPortfolio(t, "10000", j)

	pos := openBTC(t, p, Long, "47500", "0")
	assert.True(t, pos.Quantity.Equal(dec("0.04")), "qty %s", pos.Quantity)
	assert.True(t, pos.Margin.Equal(dec("200")), "margin %s", pos.Margin)
	assert.True(t, pos.LiquidationPrice.Equal(dec("45200")), "liq %s", pos.LiquidationPrice)
	assert.True(t, p.Available().Equal(dec("9800")))
	assert.True(t, p.Cash().Equal(dec("10000")))

	e, err := p.RecordEquity(hour(0))
	require.NoError(t, err)
	assert.True(t, e.TotalEquity.Equal(dec("10000")))

	tr, err := p.MarkToMarket("BTCUSDT", bar(1, "50000", "53500", "49000", "53000"))
	require.NoError(t, err)
	assert.Nil(t, tr)

	e, err = p.RecordEquity(hour(1))
	require.NoError(t, err)
	assert.True(t, e.UnrealizedPnL.Equal(dec("120")), "unrealized %s", e.UnrealizedPnL)
	assert.True(t, e.TotalEquity.Equal(dec("10120")))
	assert.True(t, e.TotalEquity.Equal(e.Cash.Add(e.UnrealizedPnL)))
	assert.True(t, e.DrawdownPct.IsZero())

	closed, err := p.Close("BTCUSDT", dec("55000"), ReasonSignal, hour(2))
	require.NoError(t, err)
	assert.True(t, closed.PnL.Equal(dec("200")), "pnl %s", closed.PnL)
	assert.True(t, closed.PnLPct.Equal(dec("100")), "pnl pct %s", closed.PnLPct)
	assert.Equal(t, 2*time.Hour, closed.HoldingTime)
	assert.Equal(t, ReasonSignal, closed.Reason)
	assert.NotEmpty(t, closed.ID)

	assert.True(t, p.Cash().Equal(dec("10200")))
	assert.True(t, p.MarginUsed().IsZero())
	assert.True(t, p.RealizedPnL().Equal(dec("200")))
	_, open := p.Position("BTCUSDT")
	assert.False(t, open)

	e, err = p.RecordEquity(hour(2))
	require.NoError(t, err)
	assert.True(t, e.TotalEquity.Equal(dec("10200")))
	assert.True(t, e.DrawdownPct.IsZero())

	recs := j.Trades()
	require.Len(t, recs, 1)
	assert.Equal(t, "RUN1", recs[0].RunID)
	assert.Equal(t, closed.ID, recs[0].TradeID)
	assert.Equal(t, "linear", recs[0].Settlement)
	assert.Len(t, j.Equity(), 3)
}

func TestTriggers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		side   Side
		stop   string
		take   string
		bar    market.Bar
		reason CloseReason
		exit   string
		pnl    string
	}{
		{"long liquidation", Long, "0", "0", bar(1, "48000", "48000", "45000", "46000"), ReasonLiquidation, "45200", "-192"},
		{"long stop before liquidation", Long, "47500", "0", bar(1, "48000", "48000", "45000", "46000"), ReasonStopLoss, "47500", "-100"},
		{"long stop beyond liquidation", Long, "45000", "0", bar(1, "48000", "48000", "44000", "46000"), ReasonLiquidation, "45200", "-192"},
		{"long take profit", Long, "47500", "60000", bar(1, "55000", "61000", "55000", "58000"), ReasonTakeProfit, "60000", "400"},
		{"long stop wins over take", Long, "47500", "52000", bar(1, "50000", "53000", "47000", "50000"), ReasonStopLoss, "47500", "-100"},
		{"short liquidation", Short, "0", "0", bar(1, "52000", "55000", "52000", "54000"), ReasonLiquidation, "54800", "-192"},
		{"short stop", Short, "52000", "0", bar(1, "51000", "52500", "50500", "51000"), ReasonStopLoss, "52000", "-80"},
		{"short take profit", Short, "52000", "45000", bar(1, "47000", "47000", "44000", "46000"), ReasonTakeProfit, "45000", "200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newPortfolio(t, "10000", nil)
			openBTC(t, p, tt.side, tt.stop, tt.take)

			tr, err := p.MarkToMarket("BTCUSDT", tt.bar)
			require.NoError(t, err)
			require.NotNil(t, tr)
			assert.Equal(t, tt.reason, tr.Reason)
			assert.True(t, tr.ExitPrice.Equal(dec(tt.exit)), "exit %s", tr.ExitPrice)
			assert.True(t, tr.PnL.Equal(dec(tt.pnl)), "pnl %s", tr.PnL)
			assert.True(t, p.Cash().Equal(dec("10000").Add(dec(tt.pnl))))
			assert.Empty(t, p.Positions())
		})
	}
}

func TestMarkToMarketWithoutPosition(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", nil)

	tr, err := p.MarkToMarket("BTCUSDT", bar(1, "1", "1", "1", "1"))
	assert.NoError(t, err)
	assert.Nil(t, tr)

	_, err = p.MarkToMarket("DOGEUSDT", bar(1, "1", "1", "1", "1"))
	assert.ErrorIs(t, err, market.ErrUnknownSymbol)
}

func TestOpenErrorsLeaveStateUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"below min qty", OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: dec("50000"), Leverage: dec("10"), SizeUSD: dec("10")}, ErrBelowMinQty},
		{"leverage below one", OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: dec("50000"), Leverage: dec("0.5"), SizeUSD: dec("1000")}, ErrLeverage},
		{"leverage inside maintenance", OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: dec("50000"), Leverage: dec("300"), SizeUSD: dec("1000")}, ErrLeverage},
		{"zero price", OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: decimal.Zero, Leverage: dec("2"), SizeUSD: dec("1000")}, ErrBadPrice},
		{"zero size", OpenRequest{Symbol: "BTCUSDT", Side: Long, Price: dec("50000"), Leverage: dec("2"), SizeUSD: decimal.Zero}, ErrBadSize},
		{"unknown symbol", OpenRequest{Symbol: "DOGEUSDT", Side: Long, Price: dec("1"), Leverage: dec("2"), SizeUSD: dec("1000")}, market.ErrUnknownSymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newPortfolio(t, "10000", nil)
			_, err := p.Open(tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, p.Available().Equal(dec("10000")))
			assert.Empty(t, p.Positions())
		})
	}
}

func TestInsufficientMargin(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "100", nil)

	_, err := p.Open(OpenRequest{
		Symbol:   "BTCUSDT",
		Side:     Long,
		Price:    dec("50000"),
		Leverage: dec("10"),
		SizeUSD:  dec("2000"),
	})
	var ime *InsufficientMarginError
	require.True(t, errors.As(err, &ime))
	assert.True(t, ime.Required.Equal(dec("200")))
	assert.True(t, ime.Available.Equal(dec("100")))
	assert.Contains(t, err.Error(), "BTCUSDT")

	assert.True(t, p.Cash().Equal(dec("100")))
	assert.True(t, p.MarginUsed().IsZero())
	assert.Empty(t, p.Positions())
}

func TestSideConflict(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", nil)
	openBTC(t, p, Long, "0", "0")

	_, err := p.Open(OpenRequest{
		Symbol:   "BTCUSDT",
		Side:     Short,
		Price:    dec("50000"),
		Leverage: dec("10"),
		SizeUSD:  dec("2000"),
	})
	assert.ErrorIs(t, err, ErrSideConflict)
	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, Long, pos.Side)
}

func TestAddToPosition(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", nil)
	openBTC(t, p, Long, "47500", "0")

	pos, err := p.Open(OpenRequest{
		Symbol:     "btc/usdt",
		Side:       Long,
		Price:      dec("55000"),
		Leverage:   dec("10"),
		SizeUSD:    dec("2200"),
		TakeProfit: dec("70000"),
		Time:       hour(1),
	})
	require.NoError(t, err)

	assert.True(t, pos.Quantity.Equal(dec("0.08")), "qty %s", pos.Quantity)
	assert.True(t, pos.EntryPrice.Equal(dec("52500")), "entry %s", pos.EntryPrice)
	assert.True(t, pos.Margin.Equal(dec("420")), "margin %s", pos.Margin)
	assert.True(t, pos.Leverage.Equal(dec("10")), "leverage %s", pos.Leverage)
	assert.True(t, pos.LiquidationPrice.Equal(dec("47460")), "liq %s", pos.LiquidationPrice)
	assert.True(t, pos.StopLoss.Equal(dec("47500")))
	assert.True(t, pos.TakeProfit.Equal(dec("70000")))
	assert.Equal(t, hour(0), pos.OpenedAt)
	assert.True(t, p.MarginUsed().Equal(dec("420")))
}

func TestReduce(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", nil)
	openBTC(t, p, Long, "0", "0")

	tr, err := p.Reduce("BTCUSDT", dec("0.0105"), dec("55000"), ReasonSignal, hour(1))
	require.NoError(t, err)
	assert.True(t, tr.Quantity.Equal(dec("0.01")), "qty %s", tr.Quantity)
	assert.True(t, tr.PnL.Equal(dec("50")), "pnl %s", tr.PnL)

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("0.03")))
	assert.True(t, pos.Margin.Equal(dec("150")))
	assert.True(t, p.Available().Equal(dec("9900")))
	assert.True(t, p.Cash().Equal(dec("10050")))

	tr, err = p.Reduce("BTCUSDT", dec("1"), dec("55000"), ReasonSignal, hour(2))
	require.NoError(t, err)
	assert.True(t, tr.Quantity.Equal(dec("0.03")))
	assert.Empty(t, p.Positions())
	assert.True(t, p.RealizedPnL().Equal(dec("200")))

	_, err = p.Reduce("BTCUSDT", dec("1"), dec("55000"), ReasonSignal, hour(3))
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestInverseContract(t *testing.T) {
	t.Parallel()
	j := journal.NewMemory()
	p := newPortfolio(t, "10000", j)

	pos, err := p.Open(OpenRequest{
		Symbol:   "BTCUSD",
		Side:     Long,
		Price:    dec("50000"),
		Leverage: dec("5"),
		SizeUSD:  dec("1050"),
		Time:     hour(0),
	})
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(dec("10")), "contracts %s", pos.Quantity)
	assert.True(t, pos.Margin.Equal(dec("200")), "margin %s", pos.Margin)

	tr, err := p.Close("BTCUSD", dec("55000"), ReasonSignal, hour(1))
	require.NoError(t, err)
	assert.True(t, tr.PnL.Sub(dec("100")).Abs().LessThan(dec("0.0001")), "pnl %s", tr.PnL)
	assert.Equal(t, "inverse", j.Trades()[0].Settlement)
	// Margin and PnL both settle in quote currency.
	assert.True(t, p.Cash().Sub(dec("10100")).Abs().LessThan(dec("0.0001")), "cash %s", p.Cash())
}

func TestShortLiquidationLevelRoundsAway(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", nil)

	pos, err := p.Open(OpenRequest{
		Symbol:   "BTCUSDT",
		Side:     Short,
		Price:    dec("50000.3"),
		Leverage: dec("3"),
		SizeUSD:  dec("1000"),
		Time:     hour(0),
	})
	require.NoError(t, err)
	// Formula level is 66466.565...; a short's level snaps up to the tick.
	assert.True(t, pos.LiquidationPrice.Equal(dec("66466.6")), "liq %s", pos.LiquidationPrice)

	tr, err := p.MarkToMarket("BTCUSDT", bar(1, "60000", "66466.58", "60000", "66000"))
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = p.MarkToMarket("BTCUSDT", bar(2, "66000", "66466.6", "66000", "66400"))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, ReasonLiquidation, tr.Reason)
}

func TestDrawdown(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", nil)
	openBTC(t, p, Long, "0", "0")

	_, err := p.MarkToMarket("BTCUSDT", bar(1, "50000", "50000", "47400", "47500"))
	require.NoError(t, err)
	e, err := p.RecordEquity(hour(1))
	require.NoError(t, err)
	assert.True(t, e.TotalEquity.Equal(dec("9900")))
	assert.True(t, e.DrawdownPct.Equal(dec("1")), "dd %s", e.DrawdownPct)

	_, err = p.MarkToMarket("BTCUSDT", bar(2, "47500", "51000", "47500", "51000"))
	require.NoError(t, err)
	e, err = p.RecordEquity(hour(2))
	require.NoError(t, err)
	assert.True(t, e.TotalEquity.Equal(dec("10040")))
	assert.True(t, e.DrawdownPct.IsZero())

	_, err = p.MarkToMarket("BTCUSDT", bar(3, "51000", "51000", "50000", "50000"))
	require.NoError(t, err)
	e, err = p.RecordEquity(hour(3))
	require.NoError(t, err)
	assert.True(t, e.DrawdownPct.IsPositive())

	curve := p.EquityCurve()
	require.Len(t, curve, 3)
	for i := 1; i < len(curve); i++ {
		assert.True(t, curve[i].Time.After(curve[i-1].Time))
	}
}

type failingJournal struct{ journal.Journal }

func (failingJournal) RecordTrade(journal.TradeRecord) error     { return errors.New("disk full") }
func (failingJournal) RecordEquity(journal.EquitySnapshot) error { return errors.New("disk full") }

func TestJournalFailureIsAtomic(t *testing.T) {
	t.Parallel()
	p := newPortfolio(t, "10000", failingJournal{})
	openBTC(t, p, Long, "0", "0")

	_, err := p.Close("BTCUSDT", dec("55000"), ReasonSignal, hour(1))
	require.ErrorIs(t, err, ErrJournal)
	assert.Contains(t, err.Error(), "disk full")

	_, ok := p.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Empty(t, p.Trades())
	assert.True(t, p.Cash().Equal(dec("10000")))
	assert.True(t, p.RealizedPnL().IsZero())

	_, err = p.RecordEquity(hour(1))
	require.Error(t, err)
	assert.Empty(t, p.EquityCurve())
}

func TestTradeIDsAreReproducible(t *testing.T) {
	t.Parallel()

	run := func() []string {
		p, err := New(Config{
			InitialCapital:        dec("10000"),
			MaintenanceMarginRate: dec("0.004"),
			IDs:                   id.NewGenerator(42),
		})
		require.NoError(t, err)
		var ids []string
		for i := 0; i < 3; i++ {
			openBTC(t, p, Long, "0", "0")
			tr, err := p.Close("BTCUSDT", dec("51000"), ReasonSignal, hour(i+1))
			require.NoError(t, err)
			ids = append(ids, tr.ID)
		}
		return ids
	}

	a, b := run(), run()
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
	assert.NotEqual(t, a[0], a[1])
}
