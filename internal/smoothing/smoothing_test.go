package smoothing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/glucose.report/internal/libre"
)

var reference = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func readingsOf(values []float64) []libre.GlucoseReading {
	out := make([]libre.GlucoseReading, len(values))
	for i, v := range values {
		out[i] = libre.GlucoseReading{Timestamp: reference.Add(-time.Duration(i) * time.Minute), RawValue: v}
	}
	return out
}

func TestSavitzkyGolay_PreservesQuadratics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    func(x float64) float64
	}{
		{"constant", func(float64) float64 { return 120 }},
		{"ramp", func(x float64) float64 { return 100 + 3*x }},
		{"parabola", func(x float64) float64 { return 0.5*x*x - 4*x + 90 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values := make([]float64, 24)
			for i := range values {
				values[i] = tc.f(float64(i))
			}
			got := SavitzkyGolay(values, 5)
			require.Len(t, got, len(values))
			for i := range values {
				assert.InDelta(t, values[i], got[i], 1e-6, "index %d", i)
			}
		})
	}
}

func TestSavitzkyGolay_ShortWindowsUnchanged(t *testing.T) {
	t.Parallel()

	values := []float64{10, 50}
	assert.Equal(t, values, SavitzkyGolay(values, 5))
	assert.Equal(t, []float64{1, 9, 2}, SavitzkyGolay([]float64{1, 9, 2}, 0))
	assert.Empty(t, SavitzkyGolay(nil, 3))
}

func TestSavitzkyGolay_ReducesNoise(t *testing.T) {
	t.Parallel()

	values := make([]float64, 32)
	for i := range values {
		values[i] = 100
		if i%2 == 0 {
			values[i] += 6
		} else {
			values[i] -= 6
		}
	}
	got := SavitzkyGolay(values, 5)

	// interior points only: clipped edge windows fit less data
	var before, after float64
	for i := 5; i < len(values)-5; i++ {
		before += math.Abs(values[i] - 100)
		after += math.Abs(got[i] - 100)
	}
	assert.Less(t, after, before/2)
}

func TestSmoothTrend_LinearRampUnchanged(t *testing.T) {
	t.Parallel()

	values := make([]float64, 32)
	for i := range values {
		values[i] = 180 - 1.5*float64(i)
	}
	readings := readingsOf(values)

	got := SmoothTrend(readings, DefaultOptions())
	require.Len(t, got, libre.TREND_SLOTS)
	for i, r := range got {
		assert.InDelta(t, values[i], r.Value(), 1e-6, "index %d", i)
		assert.Equal(t, readings[i].Timestamp, r.Timestamp)
	}
}

func TestSmoothTrend_ShortSequenceKept(t *testing.T) {
	t.Parallel()

	got := SmoothTrend(readingsOf([]float64{100, 101, 102, 103, 104, 105}), DefaultOptions())
	assert.Len(t, got, 6)
	assert.Empty(t, SmoothTrend(nil, DefaultOptions()))
}

func TestSmoothTrend_CalibratedValuesSmoothed(t *testing.T) {
	t.Parallel()

	readings := readingsOf(make([]float64, 16))
	for i := range readings {
		v := 90.0
		if i == 8 {
			v = 130
		}
		readings[i].CalibratedValue = &v
	}

	got := SmoothTrend(readings, DefaultOptions())
	require.NotNil(t, got[8].CalibratedValue)
	assert.Less(t, *got[8].CalibratedValue, 130.0)
	assert.Equal(t, 0.0, got[8].RawValue, "raw value untouched when calibrated")
}

func TestLagPass_UsesFiveMinuteNeighbours(t *testing.T) {
	t.Parallel()

	values := make([]float64, 21)
	for i := range values {
		values[i] = 100
	}
	// a spike one minute away from sample 10 is outside its lag window
	values[11] = 200
	got := lagPass(values, DefaultOptions())
	assert.InDelta(t, 100, got[10], 1e-6)
	assert.NotEqual(t, 200.0, got[11])
}

func TestSmoothHistory(t *testing.T) {
	t.Parallel()

	values := make([]float64, 32)
	for i := range values {
		values[i] = 80 + 2*float64(i)
	}
	readings := readingsOf(values)
	SmoothHistory(readings, DefaultOptions())
	require.Len(t, readings, 32)
	for i, r := range readings {
		assert.InDelta(t, values[i], r.Value(), 1e-6)
	}
	SmoothHistory(nil, DefaultOptions())
}
