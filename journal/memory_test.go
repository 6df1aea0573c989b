package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournal(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordTrade(sampleTrade("T1", now)))
	require.NoError(t, m.RecordEquity(sampleEquity(now, "10000")))
	require.NoError(t, m.RecordBacktest(ctx, BacktestRun{RunID: "RUN1", Trades: 1}))

	trades, err := m.ListTradesByRunID(ctx, "RUN1")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	none, err := m.ListEquityByRunID(ctx, "RUN9")
	require.NoError(t, err)
	assert.Empty(t, none)

	run, err := m.GetBacktestRun(ctx, "RUN1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Trades)

	_, err = m.GetBacktestRun(ctx, "RUN2")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Returned slices are copies.
	m.Trades()[0].TradeID = "mutated"
	assert.Equal(t, "T1", m.Trades()[0].TradeID)

	require.NoError(t, m.Close())
	assert.Error(t, m.RecordTrade(sampleTrade("T2", now)))
	assert.Len(t, m.Equity(), 1)
}

func TestNewPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPostgres(context.Background(), "  ", 0)
	assert.Error(t, err)

	_, err = NewPostgres(context.Background(), "postgres://%zz", 0)
	assert.Error(t, err)
}

func TestParseDecimals(t *testing.T) {
	t.Parallel()

	var a, b TradeRecord
	require.NoError(t, parseDecimals([]string{"1.50", "-2"}, &a.PnL, &b.PnL))
	assert.Equal(t, "1.5", a.PnL.String())
	assert.Equal(t, "-2", b.PnL.String())

	assert.Error(t, parseDecimals([]string{"abc"}, &a.PnL))
}
