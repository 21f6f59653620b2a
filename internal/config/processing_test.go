package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultsFileMatchesDefaults(t *testing.T) {
	cfg, err := LoadProcessingConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("Failed to load defaults file: %v", err)
	}
	if diff := cmp.Diff(DefaultProcessingConfig(), cfg); diff != "" {
		t.Errorf("defaults file mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := &ProcessingConfig{}
	if !cfg.GetSmoothingEnabled() {
		t.Error("smoothing should default to enabled")
	}
	if cfg.GetVerbose() || cfg.GetWebCalibrationEnabled() {
		t.Error("verbose and web calibration default to disabled")
	}
	if !cfg.GetLocalDerivationEnabled() {
		t.Error("local derivation should default to enabled")
	}
	if cfg.GetRequestTimeout() != 30*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 30s", cfg.GetRequestTimeout())
	}
	if cfg.GetTrendFilterWidth() != 5 || cfg.GetTrendSmoothingPasses() != 2 {
		t.Errorf("trend defaults = %d/%d", cfg.GetTrendFilterWidth(), cfg.GetTrendSmoothingPasses())
	}
	if cfg.GetLagFilterWidth() != 2 || cfg.GetLagSmoothingPasses() != 3 {
		t.Errorf("lag defaults = %d/%d", cfg.GetLagFilterWidth(), cfg.GetLagSmoothingPasses())
	}
	if cfg.GetHistoryFilterWidth() != 5 {
		t.Errorf("GetHistoryFilterWidth() = %d, want 5", cfg.GetHistoryFilterWidth())
	}
	if cfg.GetCalibrationEndpoint() != "" || cfg.GetCalibrationToken() != "" {
		t.Error("endpoint and token default to empty")
	}
}

func TestLoadProcessingConfig_JSON(t *testing.T) {
	path := writeConfig(t, "processing.json", `{
  "smoothing_enabled": false,
  "web_calibration_enabled": true,
  "calibration_endpoint": "https://oop.example.com",
  "calibration_token": "abc",
  "request_timeout": "5s"
}`)
	cfg, err := LoadProcessingConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetSmoothingEnabled() {
		t.Error("smoothing_enabled not applied")
	}
	if !cfg.GetWebCalibrationEnabled() || cfg.GetCalibrationEndpoint() != "https://oop.example.com" {
		t.Errorf("web calibration settings not applied: %+v", cfg)
	}
	if cfg.GetRequestTimeout() != 5*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 5s", cfg.GetRequestTimeout())
	}
	// unset fields keep defaults
	if cfg.GetTrendFilterWidth() != 5 {
		t.Errorf("GetTrendFilterWidth() = %d, want 5", cfg.GetTrendFilterWidth())
	}
}

func TestLoadProcessingConfig_YAML(t *testing.T) {
	path := writeConfig(t, "processing.yaml", `
smoothing_enabled: true
verbose: true
trend_filter_width: 4
lag_smoothing_passes: 1
`)
	cfg, err := LoadProcessingConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.GetVerbose() {
		t.Error("verbose not applied")
	}
	if cfg.GetTrendFilterWidth() != 4 || cfg.GetLagSmoothingPasses() != 1 {
		t.Errorf("tunables = %d/%d, want 4/1", cfg.GetTrendFilterWidth(), cfg.GetLagSmoothingPasses())
	}
}

func TestLoadProcessingConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"extension", "processing.toml", `smoothing_enabled = true`, "extension"},
		{"bad json", "bad.json", `{`, "parse"},
		{"bad duration", "timeout.json", `{"request_timeout": "soon"}`, "request_timeout"},
		{"negative duration", "timeout.json", `{"request_timeout": "-1s"}`, "positive"},
		{"zero width", "width.yml", "history_filter_width: 0\n", "history_filter_width"},
		{"negative passes", "passes.json", `{"trend_smoothing_passes": -1}`, "trend_smoothing_passes"},
		{"web without endpoint", "web.json", `{"web_calibration_enabled": true}`, "calibration_endpoint"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadProcessingConfig(writeConfig(t, tc.file, tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	if _, err := LoadProcessingConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadProcessingConfig_TooLarge(t *testing.T) {
	big := `{"calibration_token": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadProcessingConfig(writeConfig(t, "big.json", big))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}
