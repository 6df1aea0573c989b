package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOpenLong(t *testing.T) {
	t.Parallel()

	out := Sanitize(fullResponse)
	require.Equal(t, Sanitized, out.Kind)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ins, err := Build(out.Fields, ts)
	require.NoError(t, err)

	ol, ok := ins.(OpenLong)
	require.True(t, ok, "got %T", ins)
	assert.Equal(t, ActionOpenLong, ol.Action())
	assert.Equal(t, "BTCUSDT", ol.Info().Symbol)
	assert.Equal(t, ts, ol.Time)
	assert.Equal(t, "2", ol.Leverage.String())
	assert.Equal(t, "200", ol.SizeUSD.String())
	assert.Equal(t, "88580", ol.TakeProfit.String())
	assert.Equal(t, "75", ol.Confidence.String())
	assert.False(t, ol.Fallback)
}

func TestBuildVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fields Fields
		want   Action
	}{
		{Fields{FieldAction: "close_long"}, ActionCloseLong},
		{Fields{FieldAction: "close_short"}, ActionCloseShort},
		{Fields{FieldAction: "hold"}, ActionHold},
		{Fields{FieldAction: "wait"}, ActionWait},
		{FallbackFields(), ActionWait},
		{Fields{FieldAction: "open_short", FieldLeverage: "3", FieldSizePct: "10", FieldStopLoss: "51000", FieldTakeProfit: "47000"}, ActionOpenShort},
	}

	for _, tt := range tests {
		ins, err := Build(tt.fields, time.Time{})
		require.NoError(t, err, tt.want)
		assert.Equal(t, tt.want, ins.Action())
	}
}

func TestBuildRejects(t *testing.T) {
	t.Parallel()

	tests := []Fields{
		{FieldAction: "teleport"},
		{FieldAction: "open_long", FieldSizeUSD: "100"},
		{FieldAction: "open_long", FieldLeverage: "2"},
		{FieldAction: "open_long", FieldLeverage: "two", FieldSizeUSD: "100"},
		{FieldAction: "wait", FieldConfidence: "high"},
	}

	for _, f := range tests {
		_, err := Build(f, time.Time{})
		assert.Error(t, err, "%v", f)
	}
}

func TestOpenParamsNotional(t *testing.T) {
	t.Parallel()

	equity := decimal.NewFromInt(10000)

	p := OpenParams{SizeUSD: decimal.NewFromInt(2000), SizePct: decimal.NewFromInt(50)}
	assert.Equal(t, "2000", p.Notional(equity).String())

	p = OpenParams{SizePct: decimal.NewFromInt(15)}
	assert.Equal(t, "1500", p.Notional(equity).String())
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	w := WaitFor("ETHUSD", time.Time{}, "oracle timeout")
	assert.Equal(t, ActionWait, w.Action())
	assert.True(t, w.Info().Fallback)
	assert.Equal(t, "ETHUSD", w.Symbol)
}
