package libre

import "time"

// Decoded is the output of one decoding pass. Trend and History are newest-first
// with strictly decreasing timestamps across both (history continues where the
// trend ends).
type Decoded struct {
	Trend      []GlucoseReading
	History    []GlucoseReading
	State      SensorState
	AgeMinutes int
}

// Readings returns trend followed by history.
func (d Decoded) Readings() []GlucoseReading {
	out := make([]GlucoseReading, 0, len(d.Trend)+len(d.History))
	out = append(out, d.Trend...)
	return append(out, d.History...)
}

// ringRange describes one circular sample table.
type ringRange struct {
	slots     int
	nextSlot  int // slot the sensor will write next; the newest sample sits just before it
	offset    int
	minuteFor func(i int) int // sensor minute of the i-th newest sample
}

// Decode extracts trend and history readings from block. When cal is nil every
// sample is converted with RAW_MULTIPLIER and zero codes are skipped; otherwise
// cal supplies a calibrated value for each sample. Timestamps are reconstructed
// from the sensor age counter relative to reference.
func Decode(block *RawBlock, cal Calibrator, reference time.Time) Decoded {
	age := block.AgeMinutes()
	start := reference.Add(-time.Duration(age) * time.Minute)

	trend := extractRange(block, ringRange{
		slots:    TREND_SLOTS,
		nextSlot: block.TrendIndex(),
		offset:   TREND_TABLE_OFFSET,
		minuteFor: func(i int) int {
			return max(0, age-i)
		},
	}, start, cal, time.Time{})

	newest := newestHistoryMinute(age, block.HistoryIndex())
	limit := time.Time{}
	if len(trend) > 0 {
		limit = trend[len(trend)-1].Timestamp
	}
	history := extractRange(block, ringRange{
		slots:    HISTORY_SLOTS,
		nextSlot: block.HistoryIndex(),
		offset:   HISTORY_TABLE_OFFSET,
		minuteFor: func(i int) int {
			return max(0, newest-i*HISTORY_INTERVAL_MINUTES)
		},
	}, start, cal, limit)

	return Decoded{
		Trend:      trend,
		History:    history,
		State:      block.State(),
		AgeMinutes: age,
	}
}

// newestHistoryMinute returns the sensor minute of the newest history sample. The
// history index advances HISTORY_INDEX_LAG minutes after each quarter-hour, so the
// index computed from the clock can be one ahead of the stored index.
func newestHistoryMinute(age, storedIndex int) int {
	fromClock := ((age - HISTORY_INDEX_LAG) / HISTORY_INTERVAL_MINUTES) % HISTORY_SLOTS
	delay := (age-HISTORY_INDEX_LAG)%HISTORY_INTERVAL_MINUTES + HISTORY_INDEX_LAG
	if fromClock == storedIndex {
		return age - delay
	}
	return age - (delay - HISTORY_INTERVAL_MINUTES)
}

// extractRange walks one ring newest-first. A sample is kept only if its
// timestamp is strictly before olderThan (when set) and before every sample
// already kept.
func extractRange(block *RawBlock, r ringRange, start time.Time, cal Calibrator, olderThan time.Time) []GlucoseReading {
	readings := make([]GlucoseReading, 0, r.slots)
	previous := olderThan
	for i := 0; i < r.slots; i++ {
		slot := ((r.nextSlot-1-i)%r.slots + r.slots) % r.slots
		m := DecodeMeasurement(block.sample(r.offset, slot))

		ts := start.Add(time.Duration(r.minuteFor(i)) * time.Minute)
		if !previous.IsZero() && !ts.Before(previous) {
			continue
		}

		reading := GlucoseReading{
			Timestamp: ts,
			RawValue:  float64(m.RawGlucose) * RAW_MULTIPLIER,
		}
		if cal == nil {
			if m.RawGlucose <= 0 {
				continue
			}
		} else {
			v := cal.GlucoseFromMeasurement(m)
			reading.CalibratedValue = &v
		}

		readings = append(readings, reading)
		previous = ts
	}
	return readings
}
