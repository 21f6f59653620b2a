// Package calibration holds the slope/offset coefficient sets that map raw
// sensor measurements to glucose concentrations, their local derivation from the
// sensor's factory data, and the cache they are kept in.
package calibration

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/glucose.report/internal/libre"
)

// Parameters is one coefficient set, bound to the sensor it was produced for.
// The value for a measurement at thermistor reading T is
//
//	((raw * (SlopeSlope*T + OffsetSlope)) + (SlopeOffset*T + OffsetOffset)) * ExtraSlope + ExtraOffset
type Parameters struct {
	SlopeSlope   float64 `json:"slope_slope"`
	SlopeOffset  float64 `json:"slope_offset"`
	OffsetSlope  float64 `json:"offset_slope"`
	OffsetOffset float64 `json:"offset_offset"`
	ExtraSlope   float64 `json:"extra_slope"`
	ExtraOffset  float64 `json:"extra_offset"`

	// IsValidForFooterWithReverseCRCs identifies the footer the set was produced for.
	IsValidForFooterWithReverseCRCs int    `json:"is_valid_for_footer_with_reverse_crcs"`
	SerialNumber                    string `json:"serial_number"`
}

// GlucoseFromMeasurement implements libre.Calibrator. The result is rounded to
// one decimal place.
func (p *Parameters) GlucoseFromMeasurement(m libre.Measurement) float64 {
	t := float64(m.RawTemperature)
	slope := p.SlopeSlope*t + p.OffsetSlope
	offset := p.SlopeOffset*t + p.OffsetOffset
	v := (float64(m.RawGlucose)*slope + offset) * p.ExtraSlope
	v += p.ExtraOffset
	return math.Round(v*10) / 10
}

// HasZeroSlope reports whether the slope coefficient is exactly zero, which the
// remote service returns for sets it could not compute.
func (p *Parameters) HasZeroSlope() bool {
	return p.SlopeSlope == 0
}

func (p *Parameters) String() string {
	return fmt.Sprintf("serial=%s slope_slope=%g slope_offset=%g offset_slope=%g offset_offset=%g extra_slope=%g extra_offset=%g footer=%d",
		p.SerialNumber, p.SlopeSlope, p.SlopeOffset, p.OffsetSlope, p.OffsetOffset,
		p.ExtraSlope, p.ExtraOffset, p.IsValidForFooterWithReverseCRCs)
}

// Store persists parameter sets keyed by sensor serial number.
type Store interface {
	// Latest returns the most recently saved set, or nil if there is none.
	Latest() (*Parameters, error)
	// Save inserts or replaces the set for p.SerialNumber.
	Save(p *Parameters) error
	// Delete removes the set for serial, if any.
	Delete(serial string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	sets   map[string]Parameters
	latest string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string]Parameters)}
}

// Latest returns a copy of the most recently saved set.
func (s *MemoryStore) Latest() (*Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sets[s.latest]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Save stores a copy of p.
func (s *MemoryStore) Save(p *Parameters) error {
	if p == nil {
		return fmt.Errorf("nil parameters")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[p.SerialNumber] = *p
	s.latest = p.SerialNumber
	return nil
}

// Delete removes the set for serial.
func (s *MemoryStore) Delete(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, serial)
	if s.latest == serial {
		s.latest = ""
	}
	return nil
}
