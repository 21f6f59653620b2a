package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/glucose.report/internal/calibration"
)

// CalibrationStore persists calibration parameter sets. It implements
// calibration.Store.
type CalibrationStore struct {
	db *DB
}

// NewCalibrationStore returns a store backed by db.
func NewCalibrationStore(db *DB) *CalibrationStore {
	return &CalibrationStore{db: db}
}

// Latest returns the most recently saved set, or nil.
func (s *CalibrationStore) Latest() (*calibration.Parameters, error) {
	// INSERT OR REPLACE assigns a fresh rowid, so the highest rowid is the latest save.
	row := s.db.QueryRow(`SELECT serial_number, slope_slope, slope_offset, offset_slope, offset_offset,
			extra_slope, extra_offset, is_valid_for_footer_with_reverse_crcs
		FROM calibration_parameters ORDER BY rowid DESC LIMIT 1`)

	var p calibration.Parameters
	err := row.Scan(&p.SerialNumber, &p.SlopeSlope, &p.SlopeOffset, &p.OffsetSlope, &p.OffsetOffset,
		&p.ExtraSlope, &p.ExtraOffset, &p.IsValidForFooterWithReverseCRCs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration parameters: %w", err)
	}
	return &p, nil
}

// Save inserts or replaces the set for p.SerialNumber.
func (s *CalibrationStore) Save(p *calibration.Parameters) error {
	if p == nil {
		return fmt.Errorf("nil parameters")
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO calibration_parameters (
			serial_number, slope_slope, slope_offset, offset_slope, offset_offset,
			extra_slope, extra_offset, is_valid_for_footer_with_reverse_crcs, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		p.SerialNumber, p.SlopeSlope, p.SlopeOffset, p.OffsetSlope, p.OffsetOffset,
		p.ExtraSlope, p.ExtraOffset, p.IsValidForFooterWithReverseCRCs,
	)
	if err != nil {
		return fmt.Errorf("failed to save calibration parameters for %q: %w", p.SerialNumber, err)
	}
	return nil
}

// Delete removes the set for serial.
func (s *CalibrationStore) Delete(serial string) error {
	if _, err := s.db.Exec(`DELETE FROM calibration_parameters WHERE serial_number = ?`, serial); err != nil {
		return fmt.Errorf("failed to delete calibration parameters for %q: %w", serial, err)
	}
	return nil
}
