package id

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)

	_, err := ulid.Parse(a)
	require.NoError(t, err)
}

func TestGeneratorDeterministic(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := func() []string {
		g := NewGenerator(42)
		return []string{g.At(t0), g.At(t0), g.At(t0.Add(time.Hour))}
	}

	first, second := run(), run()
	assert.Equal(t, first, second)
	assert.Less(t, first[0], first[1])
	assert.Less(t, first[1], first[2])

	other := NewGenerator(7).At(t0)
	assert.NotEqual(t, first[0], other)
}

func TestGeneratorClampsBackwardsTime(t *testing.T) {
	t.Parallel()

	g := NewGenerator(1)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := g.At(t0)
	b := g.At(t0.Add(-time.Hour))
	assert.Less(t, a, b)

	u, err := ulid.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(t0), u.Time())
}
