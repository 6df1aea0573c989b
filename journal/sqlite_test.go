package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','equity','backtest_runs')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
	assert.True(t, found["backtest_runs"])
}

func TestSQLiteTradesRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	t1 := time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	require.NoError(t, j.RecordTrade(sampleTrade("T2", t2)))
	require.NoError(t, j.RecordTrade(sampleTrade("T1", t1)))

	other := sampleTrade("T3", t1)
	other.RunID = "RUN2"
	require.NoError(t, j.RecordTrade(other))

	got, err := j.ListTradesByRunID(context.Background(), "RUN1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "T1", got[0].TradeID)
	assert.Equal(t, "T2", got[1].TradeID)
	assert.True(t, got[0].PnL.Equal(dec("200.004")))
	assert.True(t, got[0].Quantity.Equal(dec("0.04")))
	assert.True(t, got[0].CloseTime.Equal(t1))

	one, err := j.GetTrade("T3")
	require.NoError(t, err)
	assert.Equal(t, "RUN2", one.RunID)

	_, err = j.GetTrade("nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	between, err := j.ListTradesClosedBetween(t1, t2)
	require.NoError(t, err)
	assert.Len(t, between, 2)
}

func TestSQLiteEquityRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, eq := range []string{"10000", "10120", "10200"} {
		require.NoError(t, j.RecordEquity(sampleEquity(t0.Add(time.Duration(i)*time.Hour), eq)))
	}

	got, err := j.ListEquityByRunID(context.Background(), "RUN1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[2].Equity.Equal(dec("10200")))
	assert.True(t, got[1].UnrealizedPnL.Equal(dec("120")))
}

func TestSQLiteBacktestRun(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	run := BacktestRun{
		RunID:        "RUN1",
		Created:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Symbol:       "BTCUSDT",
		Timeframe:    "H1",
		Dataset:      "bars.csv",
		Source:       "fixture",
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
		Bars:         3,
		Trades:       1,
		Wins:         1,
		StartBalance: dec("10000"),
		EndBalance:   dec("10200"),
		NetPL:        dec("200"),
		ReturnPct:    2,
		WinRate:      100,
		Notes:        []string{"first", "second"},
	}
	require.NoError(t, j.RecordBacktest(ctx, run))

	got, err := j.GetBacktestRun(ctx, "RUN1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, 3, got.Bars)
	assert.True(t, got.EndBalance.Equal(dec("10200")))
	assert.InDelta(t, 2.0, got.ReturnPct, 1e-9)
	assert.Equal(t, []string{"first", "second"}, got.Notes)
	assert.True(t, got.Start.Equal(run.Start))

	_, err = j.GetBacktestRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
