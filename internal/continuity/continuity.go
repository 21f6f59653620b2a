// Package continuity stitches per-minute trend values retained from an earlier
// polling session onto a freshly decoded trend, closing the gap left by a missed
// poll.
package continuity

import (
	"sync"
	"time"

	"github.com/banshee-data/glucose.report/internal/libre"
)

const (
	// MaxPrevious is the number of values retained between sessions.
	MaxPrevious = 32

	minEntries  = 16 // both sequences must be at least this long to splice
	matchWindow = 4  // consecutive equal values required for a match
)

// Extend looks for the first offset at which matchWindow consecutive trend values
// equal the head of previous. On a match the remaining previous values are
// appended as one-minute readings continuing backward from the oldest trend
// timestamp. Without a match, or when either input is too short, trend is
// returned as is.
func Extend(trend []libre.GlucoseReading, previous []float64) []libre.GlucoseReading {
	if len(trend) < minEntries || len(previous) < minEntries {
		return trend
	}

	matched := false
	for k := 0; k+matchWindow <= len(trend); k++ {
		if windowMatches(trend[k:k+matchWindow], previous[:matchWindow]) {
			matched = true
			break
		}
	}
	if !matched {
		return trend
	}

	last := trend[len(trend)-1]
	calibrated := last.CalibratedValue != nil

	out := make([]libre.GlucoseReading, len(trend), len(trend)+len(previous)-matchWindow)
	copy(out, trend)
	for j, v := range previous[matchWindow:] {
		r := libre.GlucoseReading{
			Timestamp: last.Timestamp.Add(-time.Duration(j+1) * time.Minute),
			RawValue:  v,
		}
		if calibrated {
			value := v
			r.CalibratedValue = &value
		}
		out = append(out, r)
	}
	return out
}

func windowMatches(readings []libre.GlucoseReading, values []float64) bool {
	for i := range values {
		if readings[i].Value() != values[i] {
			return false
		}
	}
	return true
}

// Buffer holds the values retained for one sensor session. It is safe for
// concurrent use, though callers are expected to serialize decodes per sensor.
type Buffer struct {
	mu     sync.Mutex
	values []float64
}

// Snapshot returns a copy of the retained values, newest first.
func (b *Buffer) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.values))
	copy(out, b.values)
	return out
}

// Store replaces the retained values with the newest MaxPrevious of values.
func (b *Buffer) Store(values []float64) {
	n := min(len(values), MaxPrevious)
	kept := make([]float64, n)
	copy(kept, values[:n])

	b.mu.Lock()
	b.values = kept
	b.mu.Unlock()
}

// Reset discards the retained values.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.values = nil
	b.mu.Unlock()
}

// Len returns the number of retained values.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.values)
}

// Extend applies Extend with the retained values.
func (b *Buffer) Extend(trend []libre.GlucoseReading) []libre.GlucoseReading {
	return Extend(trend, b.Snapshot())
}
