// Package config loads the processing configuration: feature flags, remote
// calibration service settings and smoothing tunables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical processing defaults file.
const DefaultConfigPath = "config/processing.defaults.json"

// ProcessingConfig is the root configuration. Every field is optional; the Get*
// accessors supply defaults for fields left unset.
type ProcessingConfig struct {
	SmoothingEnabled *bool `json:"smoothing_enabled,omitempty" yaml:"smoothing_enabled,omitempty"`
	Verbose          *bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Remote calibration service
	WebCalibrationEnabled  *bool   `json:"web_calibration_enabled,omitempty" yaml:"web_calibration_enabled,omitempty"`
	CalibrationEndpoint    *string `json:"calibration_endpoint,omitempty" yaml:"calibration_endpoint,omitempty"`
	CalibrationToken       *string `json:"calibration_token,omitempty" yaml:"calibration_token,omitempty"`
	RequestTimeout         *string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"` // HTTP client timeout for the calibration service, like "30s"
	LocalDerivationEnabled *bool   `json:"local_derivation_enabled,omitempty" yaml:"local_derivation_enabled,omitempty"`

	// Smoothing tunables
	TrendFilterWidth     *int `json:"trend_filter_width,omitempty" yaml:"trend_filter_width,omitempty"`
	TrendSmoothingPasses *int `json:"trend_smoothing_passes,omitempty" yaml:"trend_smoothing_passes,omitempty"`
	LagFilterWidth       *int `json:"lag_filter_width,omitempty" yaml:"lag_filter_width,omitempty"`
	LagSmoothingPasses   *int `json:"lag_smoothing_passes,omitempty" yaml:"lag_smoothing_passes,omitempty"`
	HistoryFilterWidth   *int `json:"history_filter_width,omitempty" yaml:"history_filter_width,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultProcessingConfig returns a config with every field set to its default.
func DefaultProcessingConfig() *ProcessingConfig {
	return &ProcessingConfig{
		SmoothingEnabled:       ptrBool(true),
		Verbose:                ptrBool(false),
		WebCalibrationEnabled:  ptrBool(false),
		CalibrationEndpoint:    ptrString(""),
		CalibrationToken:       ptrString(""),
		RequestTimeout:         ptrString("30s"),
		LocalDerivationEnabled: ptrBool(true),
		TrendFilterWidth:       ptrInt(5),
		TrendSmoothingPasses:   ptrInt(2),
		LagFilterWidth:         ptrInt(2),
		LagSmoothingPasses:     ptrInt(3),
		HistoryFilterWidth:     ptrInt(5),
	}
}

// LoadProcessingConfig loads a ProcessingConfig from a .json, .yaml or .yml file
// of at most 1MB. Fields omitted from the file fall back to their defaults.
func LoadProcessingConfig(path string) (*ProcessingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ProcessingConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ProcessingConfig) Validate() error {
	if c.RequestTimeout != nil && *c.RequestTimeout != "" {
		d, err := time.ParseDuration(*c.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout '%s': %w", *c.RequestTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("request_timeout must be positive, got %s", d)
		}
	}

	widths := map[string]*int{
		"trend_filter_width":   c.TrendFilterWidth,
		"lag_filter_width":     c.LagFilterWidth,
		"history_filter_width": c.HistoryFilterWidth,
	}
	for name, w := range widths {
		if w != nil && *w < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *w)
		}
	}

	passes := map[string]*int{
		"trend_smoothing_passes": c.TrendSmoothingPasses,
		"lag_smoothing_passes":   c.LagSmoothingPasses,
	}
	for name, p := range passes {
		if p != nil && *p < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *p)
		}
	}

	if c.GetWebCalibrationEnabled() && c.GetCalibrationEndpoint() == "" {
		return fmt.Errorf("web_calibration_enabled requires calibration_endpoint")
	}
	return nil
}

// GetSmoothingEnabled returns the smoothing_enabled value or the default.
func (c *ProcessingConfig) GetSmoothingEnabled() bool {
	if c.SmoothingEnabled == nil {
		return true
	}
	return *c.SmoothingEnabled
}

// GetVerbose returns the verbose value or the default.
func (c *ProcessingConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetWebCalibrationEnabled returns the web_calibration_enabled value or the default.
func (c *ProcessingConfig) GetWebCalibrationEnabled() bool {
	if c.WebCalibrationEnabled == nil {
		return false
	}
	return *c.WebCalibrationEnabled
}

// GetCalibrationEndpoint returns the calibration service base URL, or "".
func (c *ProcessingConfig) GetCalibrationEndpoint() string {
	if c.CalibrationEndpoint == nil {
		return ""
	}
	return *c.CalibrationEndpoint
}

// GetCalibrationToken returns the calibration service token, or "".
func (c *ProcessingConfig) GetCalibrationToken() string {
	if c.CalibrationToken == nil {
		return ""
	}
	return *c.CalibrationToken
}

// GetRequestTimeout parses and returns the RequestTimeout as a time.Duration.
func (c *ProcessingConfig) GetRequestTimeout() time.Duration {
	if c.RequestTimeout == nil || *c.RequestTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetLocalDerivationEnabled returns the local_derivation_enabled value or the default.
func (c *ProcessingConfig) GetLocalDerivationEnabled() bool {
	if c.LocalDerivationEnabled == nil {
		return true
	}
	return *c.LocalDerivationEnabled
}

// GetTrendFilterWidth returns the trend_filter_width value or the default.
func (c *ProcessingConfig) GetTrendFilterWidth() int {
	if c.TrendFilterWidth == nil {
		return 5
	}
	return *c.TrendFilterWidth
}

// GetTrendSmoothingPasses returns the trend_smoothing_passes value or the default.
func (c *ProcessingConfig) GetTrendSmoothingPasses() int {
	if c.TrendSmoothingPasses == nil {
		return 2
	}
	return *c.TrendSmoothingPasses
}

// GetLagFilterWidth returns the lag_filter_width value or the default.
func (c *ProcessingConfig) GetLagFilterWidth() int {
	if c.LagFilterWidth == nil {
		return 2
	}
	return *c.LagFilterWidth
}

// GetLagSmoothingPasses returns the lag_smoothing_passes value or the default.
func (c *ProcessingConfig) GetLagSmoothingPasses() int {
	if c.LagSmoothingPasses == nil {
		return 3
	}
	return *c.LagSmoothingPasses
}

// GetHistoryFilterWidth returns the history_filter_width value or the default.
func (c *ProcessingConfig) GetHistoryFilterWidth() int {
	if c.HistoryFilterWidth == nil {
		return 5
	}
	return *c.HistoryFilterWidth
}
