// Package oop is the client for the remote calibration service. The service
// computes calibration parameters for a sensor from its memory image and can
// decode memory images the local decoder does not understand.
package oop

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/glucose.report/internal/calibration"
	"github.com/banshee-data/glucose.report/internal/httputil"
	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
)

const (
	calibrationPath = "/calibrateSensor"
	multiFormatPath = "/libreoop2"
)

// Client talks to one calibration service deployment.
type Client struct {
	endpoint string
	token    string
	http     httputil.HTTPClient
}

// NewClient returns a client for endpoint authenticating with token.
func NewClient(endpoint, token string, client httputil.HTTPClient) *Client {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		http:     client,
	}
}

// CalibrationStatus is the calibration service response. Absent coefficients
// are nil.
type CalibrationStatus struct {
	SlopeSlope                      *float64 `json:"slope_slope"`
	SlopeOffset                     *float64 `json:"slope_offset"`
	OffsetSlope                     *float64 `json:"offset_slope"`
	OffsetOffset                    *float64 `json:"offset_offset"`
	IsValidForFooterWithReverseCRCs *float64 `json:"isValidForFooterWithReverseCRCs"`
	Error                           string   `json:"error,omitempty"`
}

// Parameters builds a parameter set for serial. Missing coefficients are zero;
// a missing footer flag is one.
func (s *CalibrationStatus) Parameters(serial string) *calibration.Parameters {
	flag := 1
	if s.IsValidForFooterWithReverseCRCs != nil {
		flag = int(*s.IsValidForFooterWithReverseCRCs)
	}
	return &calibration.Parameters{
		SlopeSlope:                      valueOr(s.SlopeSlope, 0),
		SlopeOffset:                     valueOr(s.SlopeOffset, 0),
		OffsetSlope:                     valueOr(s.OffsetSlope, 0),
		OffsetOffset:                    valueOr(s.OffsetOffset, 0),
		ExtraSlope:                      1,
		ExtraOffset:                     0,
		IsValidForFooterWithReverseCRCs: flag,
		SerialNumber:                    serial,
	}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// FetchCalibrationStatus asks the service for the calibration parameters of the
// sensor that produced block.
func (c *Client) FetchCalibrationStatus(ctx context.Context, block *libre.RawBlock, serial string) (*CalibrationStatus, error) {
	form := c.form(block, serial)

	var status CalibrationStatus
	if err := httputil.PostFormJSON(ctx, c.http, c.endpoint+calibrationPath, form, &status); err != nil {
		return nil, fmt.Errorf("calibration status for %s: %w", serial, err)
	}
	if status.Error != "" {
		return nil, fmt.Errorf("calibration status for %s: %w", serial, errors.New(status.Error))
	}
	monitoring.Verbosef("oop: calibration status for %s: %+v", serial, status)
	return &status, nil
}

// Glucose is one value returned by the multi-format decoder. ID is the sensor
// minute the value was recorded at.
type Glucose struct {
	ID          int     `json:"id"`
	Value       float64 `json:"value"`
	DataQuality int     `json:"dataQuality"`
}

// GlucoseData is the multi-format decoder response.
type GlucoseData struct {
	SensorState      string    `json:"sensorState"`
	SensorAgeMinutes int       `json:"sensorAgeMinutes"`
	RealTimeGlucose  Glucose   `json:"realTimeGlucose"`
	HistoricGlucose  []Glucose `json:"historicGlucose"`
	Error            string    `json:"error,omitempty"`
}

// Readings converts the response into newest-first readings, timestamped
// relative to reference. Values flagged with a non-zero quality code and
// non-positive values are dropped, as are values that would break the strict
// timestamp ordering.
func (d *GlucoseData) Readings(reference time.Time) []libre.GlucoseReading {
	candidates := make([]Glucose, 0, len(d.HistoricGlucose)+1)
	candidates = append(candidates, d.RealTimeGlucose)
	candidates = append(candidates, d.HistoricGlucose...)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ID > candidates[j].ID })

	readings := make([]libre.GlucoseReading, 0, len(candidates))
	var previous time.Time
	for _, g := range candidates {
		if g.DataQuality != 0 || g.Value <= 0 {
			continue
		}
		ts := reference.Add(-time.Duration(d.SensorAgeMinutes-g.ID) * time.Minute)
		if !previous.IsZero() && !ts.Before(previous) {
			continue
		}
		v := g.Value
		readings = append(readings, libre.GlucoseReading{
			Timestamp:       ts,
			RawValue:        v,
			CalibratedValue: &v,
		})
		previous = ts
	}
	return readings
}

// State decodes the reported sensor state. ok is false when the service returned
// a state outside the coding table.
func (d *GlucoseData) State() (libre.SensorState, bool) {
	return libre.ParseSensorState(d.SensorState)
}

// FetchMultiFormatGlucose asks the service to decode block, using vendorInfo to
// identify the sensor generation.
func (c *Client) FetchMultiFormatGlucose(ctx context.Context, block *libre.RawBlock, serial string, vendorInfo []byte) (*GlucoseData, error) {
	form := c.form(block, serial)
	if len(vendorInfo) > 0 {
		form.Set("patchInfo", hex.EncodeToString(vendorInfo))
	}

	var data GlucoseData
	if err := httputil.PostFormJSON(ctx, c.http, c.endpoint+multiFormatPath, form, &data); err != nil {
		return nil, fmt.Errorf("multi-format glucose for %s: %w", serial, err)
	}
	if data.Error != "" {
		return nil, fmt.Errorf("multi-format glucose for %s: %w", serial, errors.New(data.Error))
	}
	monitoring.Verbosef("oop: multi-format response for %s: state=%s age=%d historic=%d",
		serial, data.SensorState, data.SensorAgeMinutes, len(data.HistoricGlucose))
	return &data, nil
}

func (c *Client) form(block *libre.RawBlock, serial string) url.Values {
	return url.Values{
		"token":   {c.token},
		"serial":  {serial},
		"content": {hex.EncodeToString(block[:])},
	}
}
