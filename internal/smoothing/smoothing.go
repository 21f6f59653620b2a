// Package smoothing applies quadratic Savitzky-Golay filtering to decoded
// reading series.
package smoothing

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
)

const polyTerms = 3 // quadratic: constant, linear and square terms

// Options controls the filter widths and pass counts.
type Options struct {
	TrendHalfWidth   int
	TrendPasses      int
	LagHalfWidth     int
	LagPasses        int
	LagStep          int // spacing in samples of the lag window
	LagReach         int // lag window samples on each side of the centre
	HistoryHalfWidth int
	TrendLength      int // trend entries kept after smoothing
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		TrendHalfWidth:   5,
		TrendPasses:      2,
		LagHalfWidth:     2,
		LagPasses:        3,
		LagStep:          5,
		LagReach:         2,
		HistoryHalfWidth: 5,
		TrendLength:      libre.TREND_SLOTS,
	}
}

// SavitzkyGolay returns values filtered with a quadratic least-squares fit over a
// window of halfWidth samples on each side. Windows are clipped at the sequence
// bounds; a sample whose clipped window has fewer than three points keeps its
// value.
func SavitzkyGolay(values []float64, halfWidth int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if halfWidth < 1 {
		return out
	}
	for i := range values {
		lo := max(0, i-halfWidth)
		hi := min(len(values)-1, i+halfWidth)
		if hi-lo+1 < polyTerms {
			continue
		}
		if v, ok := fitAt(values[lo:hi+1], i-lo); ok {
			out[i] = v
		}
	}
	return out
}

// fitAt fits a quadratic to window and evaluates it at index centre. The
// abscissa is shifted so the centre sits at zero, which makes the constant term
// the fitted value.
func fitAt(window []float64, centre int) (float64, bool) {
	n := len(window)
	design := mat.NewDense(n, polyTerms, nil)
	for j := 0; j < n; j++ {
		x := float64(j - centre)
		design.Set(j, 0, 1)
		design.Set(j, 1, x)
		design.Set(j, 2, x*x)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(design, mat.NewVecDense(n, append([]float64(nil), window...))); err != nil {
		monitoring.Verbosef("smoothing: least-squares fit failed over %d samples: %v", n, err)
		return 0, false
	}
	return coef.AtVec(0), true
}

// SmoothTrend filters an extended trend sequence in place: TrendPasses full
// passes, then the lag pass, then truncation to TrendLength entries. The
// truncated slice is returned.
func SmoothTrend(readings []libre.GlucoseReading, opts Options) []libre.GlucoseReading {
	if len(readings) == 0 {
		return readings
	}
	values := libre.Values(readings)
	for p := 0; p < opts.TrendPasses; p++ {
		values = SavitzkyGolay(values, opts.TrendHalfWidth)
	}
	values = lagPass(values, opts)

	for i := range readings {
		readings[i].SetValue(values[i])
	}
	if opts.TrendLength > 0 && len(readings) > opts.TrendLength {
		readings = readings[:opts.TrendLength]
	}
	return readings
}

// lagPass smooths each sample against its neighbours LagStep samples apart,
// reading from the values as they were before the pass.
func lagPass(values []float64, opts Options) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if opts.LagStep < 1 || opts.LagReach < 1 {
		return out
	}

	window := make([]float64, 0, 2*opts.LagReach+1)
	for i := range values {
		window = window[:0]
		centre := 0
		for k := -opts.LagReach; k <= opts.LagReach; k++ {
			j := i + k*opts.LagStep
			if j < 0 || j >= len(values) {
				continue
			}
			if k == 0 {
				centre = len(window)
			}
			window = append(window, values[j])
		}

		filtered := window
		for p := 0; p < opts.LagPasses; p++ {
			filtered = SavitzkyGolay(filtered, opts.LagHalfWidth)
		}
		out[i] = filtered[centre]
	}
	return out
}

// SmoothHistory applies a single filter pass to history readings in place.
func SmoothHistory(readings []libre.GlucoseReading, opts Options) {
	if len(readings) == 0 {
		return
	}
	values := SavitzkyGolay(libre.Values(readings), opts.HistoryHalfWidth)
	for i := range readings {
		readings[i].SetValue(values[i])
	}
}
