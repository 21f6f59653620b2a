package libre

import (
	"encoding/binary"
	"time"
)

// GlucoseReading is one timestamped sample. RawValue always carries the
// uncalibrated value; CalibratedValue is set when calibration parameters or a
// remote service produced a glucose concentration.
type GlucoseReading struct {
	Timestamp       time.Time `json:"timestamp"`
	RawValue        float64   `json:"raw_value"`
	CalibratedValue *float64  `json:"calibrated_value,omitempty"`
}

// Value returns the value used downstream: the calibrated value when present,
// otherwise the raw value.
func (r GlucoseReading) Value() float64 {
	if r.CalibratedValue != nil {
		return *r.CalibratedValue
	}
	return r.RawValue
}

// SetValue replaces the value returned by Value.
func (r *GlucoseReading) SetValue(v float64) {
	if r.CalibratedValue != nil {
		r.CalibratedValue = &v
		return
	}
	r.RawValue = v
}

// Values returns the downstream values of readings in order.
func Values(readings []GlucoseReading) []float64 {
	out := make([]float64, len(readings))
	for i, r := range readings {
		out[i] = r.Value()
	}
	return out
}

// Measurement is the decoded content of one 6-byte sample.
type Measurement struct {
	RawGlucose            int // 13-bit glucose code
	RawTemperature        int // thermistor reading
	TemperatureAdjustment int // signed adjustment applied to the thermistor reading
}

// Calibrator converts a measurement into a temperature-compensated glucose value.
type Calibrator interface {
	GlucoseFromMeasurement(m Measurement) float64
}

// DecodeMeasurement decodes one 6-byte sample. Callers pass slices cut from a
// RawBlock, so the length is always SAMPLE_SIZE.
func DecodeMeasurement(sample []byte) Measurement {
	m := Measurement{
		RawGlucose:     int(binary.LittleEndian.Uint16(sample[0:2]) & RAW_CODE_MASK),
		RawTemperature: ReadBits(sample, 0, 26, 12) << 2,
	}
	adjustment := ReadBits(sample, 0, 38, 9) << 2
	if ReadBits(sample, 0, 47, 1) != 0 {
		adjustment = -adjustment
	}
	m.TemperatureAdjustment = adjustment
	return m
}
