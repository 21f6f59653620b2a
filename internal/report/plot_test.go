package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/glucose.report/internal/libre"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func series(now time.Time, n int, calibrated bool) []libre.GlucoseReading {
	out := make([]libre.GlucoseReading, n)
	for i := range out {
		out[i] = libre.GlucoseReading{Timestamp: now.Add(-time.Duration(i) * time.Minute), RawValue: 1000 + float64(i)*5}
		if calibrated {
			v := 100 + float64(i)
			out[i].CalibratedValue = &v
		}
	}
	return out
}

func TestPlotReadings(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	readings := append(series(now, 16, true), series(now.Add(-time.Hour), 8, false)...)

	path := filepath.Join(t.TempDir(), "readings.png")
	require.NoError(t, PlotReadings(readings, "0M0008B8CM", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestPlotReadings_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.png")
	assert.ErrorIs(t, PlotReadings(nil, "x", path), ErrNoReadings)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPlotter(t *testing.T) {
	dir := t.TempDir()
	p := &Plotter{Path: filepath.Join(dir, "latest.png"), Title: "S"}

	p.ReceiveReadings([]libre.GlucoseReading{}, nil, nil)
	p.Complete(nil, nil)
	_, err := os.Stat(p.Path)
	assert.True(t, os.IsNotExist(err), "nothing drawn for an empty delivery")

	p.ReceiveReadings(series(time.Now(), 4, false), nil, nil)
	ready := libre.SensorStateReady
	p.Complete(&ready, nil)
	data, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}
