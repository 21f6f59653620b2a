package db

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/glucose.report/internal/httputil"
	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
)

// StoredResult is one row of the processing result log.
type StoredResult struct {
	ID               int64                  `json:"result_id"`
	SessionID        uuid.UUID              `json:"session_id"`
	SerialNumber     string                 `json:"serial_number"`
	SensorState      string                 `json:"sensor_state,omitempty"`
	SensorAgeMinutes *int                   `json:"sensor_age_minutes,omitempty"`
	Battery          *int                   `json:"battery,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Readings         []libre.GlucoseReading `json:"readings"`
}

// Recorder is a processing.Receiver that appends each delivered result to the
// log under one session.
type Recorder struct {
	db        *DB
	sessionID uuid.UUID
	serial    string

	mu      sync.Mutex
	pending []libre.GlucoseReading
	battery *int
	age     *int
}

// NewRecorder returns a Recorder logging results for the given session.
func NewRecorder(db *DB, sessionID uuid.UUID, serial string) *Recorder {
	return &Recorder{db: db, sessionID: sessionID, serial: serial}
}

// ReceiveReadings buffers the readings until Complete.
func (r *Recorder) ReceiveReadings(readings []libre.GlucoseReading, battery *int, sensorAgeMinutes *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append([]libre.GlucoseReading(nil), readings...)
	r.battery = battery
	r.age = sensorAgeMinutes
}

// Complete writes the buffered result.
func (r *Recorder) Complete(state *libre.SensorState, err error) {
	r.mu.Lock()
	res := StoredResult{
		SessionID:        r.sessionID,
		SerialNumber:     r.serial,
		SensorAgeMinutes: r.age,
		Battery:          r.battery,
		Readings:         r.pending,
	}
	if state != nil {
		res.SensorState = state.String()
	}
	if err != nil {
		res.Error = err.Error()
	}
	r.pending, r.battery, r.age = nil, nil, nil
	r.mu.Unlock()

	if _, werr := r.db.RecordResult(res); werr != nil {
		monitoring.Logf("db: recording result for session %s: %v", r.sessionID, werr)
	}
}

// RecordResult stores res and its readings in one transaction and returns the
// new result ID.
func (db *DB) RecordResult(res StoredResult) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	out, err := tx.Exec(`INSERT INTO processing_results (
			session_id, serial_number, sensor_state, sensor_age_minutes, battery, error
		) VALUES (?, ?, ?, ?, ?, ?)`,
		res.SessionID.String(), res.SerialNumber, nullString(res.SensorState),
		nullInt(res.SensorAgeMinutes), nullInt(res.Battery), nullString(res.Error),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert result: %w", err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO glucose_readings (result_id, timestamp_ns, raw_value, calibrated_value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, reading := range res.Readings {
		var calibrated sql.NullFloat64
		if reading.CalibratedValue != nil {
			calibrated = sql.NullFloat64{Float64: *reading.CalibratedValue, Valid: true}
		}
		if _, err := stmt.Exec(id, reading.Timestamp.UnixNano(), reading.RawValue, calibrated); err != nil {
			return 0, fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Results returns the logged results of a session, newest first, with their
// readings.
func (db *DB) Results(sessionID uuid.UUID) ([]StoredResult, error) {
	rows, err := db.Query(`SELECT result_id, serial_number, sensor_state, sensor_age_minutes, battery, error
		FROM processing_results WHERE session_id = ? ORDER BY result_id DESC`, sessionID.String())
	if err != nil {
		return nil, err
	}

	var results []StoredResult
	for rows.Next() {
		var (
			res          StoredResult
			state, errs  sql.NullString
			age, battery sql.NullInt64
		)
		if err := rows.Scan(&res.ID, &res.SerialNumber, &state, &age, &battery, &errs); err != nil {
			rows.Close()
			return nil, err
		}
		res.SessionID = sessionID
		res.SensorState = state.String
		res.Error = errs.String
		res.SensorAgeMinutes = intPtr(age)
		res.Battery = intPtr(battery)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range results {
		readings, err := db.readings(results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].Readings = readings
	}
	return results, nil
}

// serveResults answers GET /api/results?session=<uuid>.
func (db *DB) serveResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("session"))
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "invalid or missing session id")
		return
	}
	results, err := db.Results(id)
	if err != nil {
		monitoring.Logf("db: listing results for session %s: %v", id, err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []StoredResult{}
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

func (db *DB) readings(resultID int64) ([]libre.GlucoseReading, error) {
	rows, err := db.Query(`SELECT timestamp_ns, raw_value, calibrated_value FROM glucose_readings
		WHERE result_id = ? ORDER BY timestamp_ns DESC`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []libre.GlucoseReading
	for rows.Next() {
		var (
			ts         int64
			raw        float64
			calibrated sql.NullFloat64
		)
		if err := rows.Scan(&ts, &raw, &calibrated); err != nil {
			return nil, err
		}
		r := libre.GlucoseReading{Timestamp: time.Unix(0, ts).UTC(), RawValue: raw}
		if calibrated.Valid {
			v := calibrated.Float64
			r.CalibratedValue = &v
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
