// Package report renders reading series as PNG charts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
)

// ErrNoReadings is returned when there is nothing to plot.
var ErrNoReadings = errors.New("no readings to plot")

var (
	rawColor        = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	calibratedColor = color.RGBA{R: 200, G: 40, B: 40, A: 255}
)

// PlotReadings draws readings against time and saves the chart to path. The
// format follows the extension (.png, .svg, .pdf).
func PlotReadings(readings []libre.GlucoseReading, title, path string) error {
	if len(readings) == 0 {
		return ErrNoReadings
	}

	sorted := append([]libre.GlucoseReading(nil), readings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	raw := make(plotter.XYs, 0, len(sorted))
	calibrated := make(plotter.XYs, 0, len(sorted))
	for _, r := range sorted {
		x := float64(r.Timestamp.Unix())
		if r.CalibratedValue != nil {
			calibrated = append(calibrated, plotter.XY{X: x, Y: *r.CalibratedValue})
			continue
		}
		raw = append(raw, plotter.XY{X: x, Y: r.RawValue})
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (UTC)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}
	p.Y.Label.Text = "Glucose (mg/dL)"
	p.Add(plotter.NewGrid())

	if err := addSeries(p, "raw", raw, rawColor); err != nil {
		return err
	}
	if err := addSeries(p, "calibrated", calibrated, calibratedColor); err != nil {
		return err
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

func addSeries(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	points.GlyphStyle.Color = c
	points.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(line, points)
	p.Legend.Add(label, line, points)
	return nil
}

// Plotter is a processing.Receiver that redraws the chart at Path after each
// delivery with readings.
type Plotter struct {
	Path  string
	Title string

	mu      sync.Mutex
	pending []libre.GlucoseReading
}

// ReceiveReadings implements processing.Receiver.
func (p *Plotter) ReceiveReadings(readings []libre.GlucoseReading, _ *int, _ *int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = readings
}

// Complete implements processing.Receiver.
func (p *Plotter) Complete(_ *libre.SensorState, _ error) {
	p.mu.Lock()
	readings := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(readings) == 0 {
		return
	}
	if err := PlotReadings(readings, p.Title, p.Path); err != nil {
		monitoring.Logf("report: %v", err)
	}
}
