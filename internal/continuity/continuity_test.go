package continuity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/glucose.report/internal/libre"
)

var reference = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func trendOf(values []float64) []libre.GlucoseReading {
	out := make([]libre.GlucoseReading, len(values))
	for i, v := range values {
		out[i] = libre.GlucoseReading{
			Timestamp: reference.Add(-time.Duration(i) * time.Minute),
			RawValue:  v,
		}
	}
	return out
}

func seq(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func TestExtend_Splice(t *testing.T) {
	t.Parallel()

	values := seq(16, 100)
	trend := trendOf(values)

	previous := seq(20, 500)
	copy(previous[:4], values[2:6])

	got := Extend(trend, previous)
	require.Len(t, got, 32)

	assert.Equal(t, trend, got[:16], "decoded trend is kept as is")
	oldest := trend[15].Timestamp
	for j, r := range got[16:] {
		assert.Equal(t, oldest.Add(-time.Duration(j+1)*time.Minute), r.Timestamp)
		assert.Equal(t, previous[4+j], r.RawValue)
		assert.Nil(t, r.CalibratedValue)
	}
	for i := 1; i < len(got); i++ {
		assert.Equal(t, time.Minute, got[i-1].Timestamp.Sub(got[i].Timestamp))
	}
}

func TestExtend_FirstMatchWins(t *testing.T) {
	t.Parallel()

	values := []float64{7, 7, 7, 7, 7, 7, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	previous := append([]float64{7, 7, 7, 7}, seq(16, 40)...)

	got := Extend(trendOf(values), previous)
	require.Len(t, got, 16+16)
	assert.Equal(t, 40.0, got[16].RawValue)
}

func TestExtend_CalibratedTrend(t *testing.T) {
	t.Parallel()

	trend := trendOf(seq(16, 100))
	for i := range trend {
		v := trend[i].RawValue / 2
		trend[i].CalibratedValue = &v
	}
	previous := append([]float64{50, 50.5, 51, 51.5}, seq(12, 80)...)

	got := Extend(trend, previous)
	require.Len(t, got, 28)
	require.NotNil(t, got[16].CalibratedValue)
	assert.Equal(t, 80.0, got[16].Value())
}

func TestExtend_Unchanged(t *testing.T) {
	t.Parallel()

	trend := trendOf(seq(16, 100))
	tests := []struct {
		name     string
		trend    []libre.GlucoseReading
		previous []float64
	}{
		{"no previous", trend, nil},
		{"short previous", trend, seq(15, 100)},
		{"short trend", trend[:15], seq(20, 100)},
		{"no match", trend, seq(20, 300)},
		{"three of four match", trend, append([]float64{100, 101, 102, 999}, seq(16, 0)...)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Extend(tc.trend, tc.previous)
			require.Len(t, got, len(tc.trend))
			if len(got) > 0 {
				assert.Same(t, &tc.trend[0], &got[0], "input slice returned unmodified")
			}
		})
	}
}

func TestBuffer(t *testing.T) {
	t.Parallel()

	var b Buffer
	assert.Empty(t, b.Snapshot())

	b.Store(seq(40, 0))
	assert.Equal(t, MaxPrevious, b.Len())
	snap := b.Snapshot()
	assert.Equal(t, 0.0, snap[0])
	assert.Equal(t, 31.0, snap[31])

	snap[0] = -1
	assert.Equal(t, 0.0, b.Snapshot()[0], "Snapshot returns a copy")

	trend := trendOf(seq(16, 0))
	b.Store(seq(20, 2))
	assert.Len(t, b.Extend(trend), 32)

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Len(t, b.Extend(trend), 16)
}
