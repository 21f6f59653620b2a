package calibration

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/glucose.report/internal/libre"
)

// ErrNoFactoryData is returned by Derive when the manufacturing region is blank
// or describes a degenerate sensor.
var ErrNoFactoryData = errors.New("no usable factory calibration data")

// Info is the factory calibration record stored in the block header and footer.
type Info struct {
	I1, I2, I3, I4, I5, I6 int
	NegativeI3             bool
}

// ReadInfo decodes the factory calibration bit fields.
func ReadInfo(block *libre.RawBlock) Info {
	b := block[:]
	info := Info{
		I1:         libre.ReadBits(b, 2, 0, 3),
		I2:         libre.ReadBits(b, 2, 3, 10),
		I3:         libre.ReadBits(b, 0x150, 0, 8),
		I4:         libre.ReadBits(b, 0x150, 8, 14),
		NegativeI3: libre.ReadBits(b, 0x150, 0x21, 1) != 0,
		I5:         libre.ReadBits(b, 0x150, 0x28, 12) << 2,
		I6:         libre.ReadBits(b, 0x150, 0x34, 12) << 2,
	}
	if info.NegativeI3 {
		info.I3 = -info.I3
	}
	return info
}

// Steinhart-Hart coefficients of the sensor thermistor.
const (
	thermistorA = 0.0009180023
	thermistorB = 0.0001964561
	thermistorC = 0.0000007061775
	thermistorD = 0.00000005283566
)

// FactoryGlucose applies the factory calibration to one measurement. ok is false
// when the calibration record cannot produce a value for it.
func (info Info) FactoryGlucose(m libre.Measurement) (float64, bool) {
	if info.I4 == info.I3 {
		return 0, false
	}
	divisor := float64(m.TemperatureAdjustment + info.I6)
	if divisor <= 0 {
		return 0, false
	}
	r := float64(m.RawTemperature)*72500/divisor - 1000
	if r <= 0 {
		return 0, false
	}
	logR := math.Log(r)
	d := thermistorD*logR*logR*logR + thermistorC*logR*logR + thermistorB*logR + thermistorA
	temperature := 1/d - 273.15

	g1 := 65 * float64(m.RawGlucose-info.I3) / float64(info.I4-info.I3)
	g2 := math.Pow(1.045, 32.5-temperature)
	v := g1 * g2
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Grid of raw codes and thermistor readings the factory model is sampled at.
var (
	deriveRawCodes     = []float64{1000, 2000, 3000}
	deriveTemperatures = []float64{6000, 7500, 9000}
)

// Derive computes a Parameters set for serial from the block's factory data. The
// factory model is sampled on a grid; for each thermistor reading a line is fitted
// across raw codes, and the fitted slopes and offsets are in turn fitted linearly
// against the thermistor reading.
func Derive(block *libre.RawBlock, serial string) (*Parameters, error) {
	info := ReadInfo(block)
	if info.I6 == 0 {
		return nil, ErrNoFactoryData
	}

	slopes := make([]float64, len(deriveTemperatures))
	offsets := make([]float64, len(deriveTemperatures))
	for ti, temp := range deriveTemperatures {
		values := make([]float64, len(deriveRawCodes))
		for ri, raw := range deriveRawCodes {
			v, ok := info.FactoryGlucose(libre.Measurement{
				RawGlucose:     int(raw),
				RawTemperature: int(temp),
			})
			if !ok {
				return nil, fmt.Errorf("factory model undefined at raw=%g temperature=%g: %w", raw, temp, ErrNoFactoryData)
			}
			values[ri] = v
		}
		offsets[ti], slopes[ti] = stat.LinearRegression(deriveRawCodes, values, nil, false)
	}

	offsetSlope, slopeSlope := stat.LinearRegression(deriveTemperatures, slopes, nil, false)
	offsetOffset, slopeOffset := stat.LinearRegression(deriveTemperatures, offsets, nil, false)

	p := &Parameters{
		SlopeSlope:                      slopeSlope,
		SlopeOffset:                     slopeOffset,
		OffsetSlope:                     offsetSlope,
		OffsetOffset:                    offsetOffset,
		ExtraSlope:                      1,
		ExtraOffset:                     0,
		IsValidForFooterWithReverseCRCs: int(binary.LittleEndian.Uint16(block.Footer()[0:2])),
		SerialNumber:                    serial,
	}
	for _, v := range []float64{p.SlopeSlope, p.SlopeOffset, p.OffsetSlope, p.OffsetOffset} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("derived coefficients not finite: %w", ErrNoFactoryData)
		}
	}
	return p, nil
}
