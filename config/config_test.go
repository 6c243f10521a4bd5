package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.EpochDuration())
	assert.Equal(t, [3]float64{48, 154, 389}, cfg.Thresholds())

	start, end := cfg.SleepWindow()
	assert.Equal(t, 22*time.Hour, start)
	assert.Equal(t, 7*time.Hour, end)
	assert.Equal(t, Calibration{Gain: 1}, cfg.AxisCalibration(2))

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Len(t, reg.Profiles(), 2)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"non-increasing thresholds", func(c *Config) { c.ActivityThresholds = []float64{100, 50, 200} }, "activity_thresholds"},
		{"two thresholds", func(c *Config) { c.ActivityThresholds = []float64{1, 2} }, "activity_thresholds"},
		{"zero epoch", func(c *Config) { c.EpochDurationSeconds = 0 }, "epoch_duration_seconds"},
		{"too many axes", func(c *Config) { c.AxisCount = 4 }, "axis_count"},
		{"bad sleep clock", func(c *Config) { c.SleepWindowStart = "25:99" }, "sleep_window_start"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad day mode", func(c *Config) { c.DayBoundaryMode = "fortnight" }, "day_boundary_mode"},
		{"zero gain", func(c *Config) { c.Calibration = []Calibration{{Gain: 1}, {Gain: 0}} }, "calibration[1].gain"},
		{"negative gap limit", func(c *Config) { c.MaxGapEpochs = -1 }, "max_gap_epochs"},
		{"bad profile", func(c *Config) {
			c.Formats = []binfile.Profile{{Name: "x", Marker: "AB", Version: 1, Variant: "stamped", ByteOrder: "big", CountWidth: 2}}
		}, "formats"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	body := `{"epoch_duration_seconds": 60, "timezone": "Europe/Amsterdam", "day_boundary_mode": "wear"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.EpochDurationSeconds)
	assert.Equal(t, DayWear, cfg.DayBoundaryMode)
	assert.Equal(t, "Europe/Amsterdam", cfg.Location().String())
	assert.Equal(t, []float64{48, 154, 389}, cfg.ActivityThresholds)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "cfg.yaml"))
	assert.ErrorContains(t, err, ".json extension")

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to stat")

	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat(" ", maxFileSize+1)), 0o644))
	_, err = Load(big)
	assert.ErrorContains(t, err, "too large")

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"timezone":`), 0o644))
	_, err = Load(broken)
	assert.ErrorContains(t, err, "failed to parse")

	invalidCfg := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalidCfg, []byte(`{"activity_thresholds":[100,50,200]}`), 0o644))
	_, err = Load(invalidCfg)
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock(" 06:30 ")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour+30*time.Minute, d)

	_, err = ParseClock("6pm")
	assert.Error(t, err)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"day_boundary_mode":"wear","sleep_threshold":20}`))
	require.NoError(t, err)
	assert.Equal(t, DayWear, cfg.DayBoundaryMode)
	assert.Equal(t, 20.0, cfg.SleepThreshold)
	assert.Equal(t, Default().MinValidDayMinutes, cfg.MinValidDayMinutes)

	_, err = Parse([]byte(`{"day_boundary_mode":"weekly"}`))
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "day_boundary_mode", ce.Field)
}
