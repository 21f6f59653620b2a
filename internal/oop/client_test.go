package oop

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/glucose.report/internal/httputil"
	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/testutil"
)

var reference = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func TestFetchCalibrationStatus(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"slope_slope":0.00001,"slope_offset":-0.0002,"offset_slope":0.1,"offset_offset":-15}`)

	block := testutil.NewBlock().Age(500).Build()
	client := NewClient("https://oop.example.com/", "secret", mock)

	status, err := client.FetchCalibrationStatus(context.Background(), block, "0M0008B8CM")
	require.NoError(t, err)

	p := status.Parameters("0M0008B8CM")
	assert.Equal(t, 0.00001, p.SlopeSlope)
	assert.Equal(t, -0.0002, p.SlopeOffset)
	assert.Equal(t, 0.1, p.OffsetSlope)
	assert.Equal(t, -15.0, p.OffsetOffset)
	assert.Equal(t, 1.0, p.ExtraSlope)
	assert.Equal(t, 1, p.IsValidForFooterWithReverseCRCs, "absent footer flag defaults to one")
	assert.Equal(t, "0M0008B8CM", p.SerialNumber)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, "https://oop.example.com/calibrateSensor", req.URL.String())
	require.NoError(t, req.ParseForm())
	assert.Equal(t, "secret", req.PostForm.Get("token"))
	assert.Equal(t, "0M0008B8CM", req.PostForm.Get("serial"))
	assert.Equal(t, hex.EncodeToString(block[:]), req.PostForm.Get("content"))
}

func TestCalibrationStatus_MissingFieldsDefault(t *testing.T) {
	var status CalibrationStatus
	p := status.Parameters("X")
	assert.Zero(t, p.SlopeSlope)
	assert.Zero(t, p.OffsetOffset)
	assert.True(t, p.HasZeroSlope())
	assert.Equal(t, 1, p.IsValidForFooterWithReverseCRCs)

	flag := 0.0
	status.IsValidForFooterWithReverseCRCs = &flag
	assert.Equal(t, 0, status.Parameters("X").IsValidForFooterWithReverseCRCs)
}

func TestFetchCalibrationStatus_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *httputil.MockHTTPClient)
	}{
		{"transport", func(m *httputil.MockHTTPClient) { m.AddErrorResponse(errors.New("dial tcp: refused")) }},
		{"status", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusUnauthorized, "bad token") }},
		{"service error", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusOK, `{"error":"unknown sensor"}`) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			tc.setup(mock)
			client := NewClient("https://oop.example.com", "secret", mock)
			status, err := client.FetchCalibrationStatus(context.Background(), testutil.NewBlock().Build(), "S")
			assert.Error(t, err)
			assert.Nil(t, status)
		})
	}
}

func TestFetchMultiFormatGlucose(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{
		"sensorState": "ready",
		"sensorAgeMinutes": 2000,
		"realTimeGlucose": {"id": 2000, "value": 112, "dataQuality": 0},
		"historicGlucose": [
			{"id": 1980, "value": 105, "dataQuality": 0},
			{"id": 1995, "value": 108, "dataQuality": 0},
			{"id": 1965, "value": 99, "dataQuality": 4},
			{"id": 1950, "value": 0, "dataQuality": 0}
		]
	}`)

	client := NewClient("https://oop.example.com", "secret", mock)
	data, err := client.FetchMultiFormatGlucose(context.Background(), testutil.NewBlock().Build(), "3MH0", []byte{0x9D, 0x08, 0x30})
	require.NoError(t, err)

	state, ok := data.State()
	assert.True(t, ok)
	assert.Equal(t, libre.SensorStateReady, state)

	readings := data.Readings(reference)
	require.Len(t, readings, 3)
	assert.Equal(t, reference, readings[0].Timestamp)
	assert.Equal(t, 112.0, readings[0].Value())
	assert.Equal(t, reference.Add(-5*time.Minute), readings[1].Timestamp)
	assert.Equal(t, reference.Add(-20*time.Minute), readings[2].Timestamp)
	require.NotNil(t, readings[2].CalibratedValue)
	assert.Equal(t, 105.0, *readings[2].CalibratedValue)

	req := mock.GetRequest(0)
	assert.Equal(t, "/libreoop2", req.URL.Path)
	require.NoError(t, req.ParseForm())
	assert.Equal(t, "9d0830", req.PostForm.Get("patchInfo"))
}

func TestGlucoseData_UnknownState(t *testing.T) {
	data := GlucoseData{SensorState: "warming"}
	_, ok := data.State()
	assert.False(t, ok)
	assert.Empty(t, data.Readings(reference))
}
