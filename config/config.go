// Package config defines the pipeline configuration surface. A Config is an
// immutable value: constructors take a copy and never write back to it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/lucasjlepore/wear-epochs/binfile"
	"github.com/lucasjlepore/wear-epochs/epoch"
)

// DayBoundaryMode selects how epochs are grouped into days.
type DayBoundaryMode string

const (
	// DayCalendar splits at local midnight in the configured timezone.
	DayCalendar DayBoundaryMode = "calendar"
	// DayWear splits into consecutive 24 hour windows from the first epoch.
	DayWear DayBoundaryMode = "wear"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Calibration converts one axis count into calibrated units: (count-offset)/gain.
type Calibration struct {
	Gain   float64 `json:"gain"`
	Offset float64 `json:"offset"`
}

// Config holds every tunable of the pipeline.
type Config struct {
	EpochDurationSeconds int `json:"epoch_duration_seconds"`
	// AxisCount of zero accepts whatever the file header declares.
	AxisCount int `json:"axis_count"`

	NonWearMinWindowEpochs int     `json:"non_wear_min_window_epochs"`
	NonWearZeroThreshold   float64 `json:"non_wear_zero_threshold"`

	SleepWindowStart  string  `json:"sleep_window_start"` // local "HH:MM"
	SleepWindowEnd    string  `json:"sleep_window_end"`
	SleepThreshold    float64 `json:"sleep_threshold"`
	SleepMinRunEpochs int     `json:"sleep_min_run_epochs"`

	// ActivityThresholds are the sedentary/light/moderate cut points, strictly increasing.
	ActivityThresholds []float64 `json:"activity_thresholds"`

	MinValidDayMinutes float64         `json:"min_valid_day_minutes"`
	DayBoundaryMode    DayBoundaryMode `json:"day_boundary_mode"`
	Timezone           string          `json:"timezone"`

	MaxGapEpochs int `json:"max_gap_epochs"`

	Calibration []Calibration     `json:"calibration,omitempty"`
	Formats     []binfile.Profile `json:"formats,omitempty"`

	// CancelCheckEpochs is how many epochs a worker processes between context checks.
	CancelCheckEpochs int `json:"cancel_check_epochs"`
}

// Default returns the research defaults: 30 second epochs and the
// 48/154/389 mg intensity cut points.
func Default() Config {
	return Config{
		EpochDurationSeconds:   30,
		NonWearMinWindowEpochs: 120,
		NonWearZeroThreshold:   5,
		SleepWindowStart:       "22:00",
		SleepWindowEnd:         "07:00",
		SleepThreshold:         48,
		SleepMinRunEpochs:      60,
		ActivityThresholds:     []float64{48, 154, 389},
		MinValidDayMinutes:     600,
		DayBoundaryMode:        DayCalendar,
		Timezone:               "UTC",
		MaxGapEpochs:           120,
		Formats:                binfile.DefaultProfiles(),
		CancelCheckEpochs:      2880,
	}
}

// Load reads a JSON config file over Default. The file must have a .json
// extension and be under 1MB. Omitted fields keep their defaults.
func Load(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes JSON over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field as a *ConfigurationError.
func (c Config) Validate() error {
	if c.EpochDurationSeconds <= 0 {
		return invalid("epoch_duration_seconds", "must be positive, got %d", c.EpochDurationSeconds)
	}
	if c.AxisCount < 0 || c.AxisCount > epoch.MaxAxes {
		return invalid("axis_count", "must be between 0 and %d, got %d", epoch.MaxAxes, c.AxisCount)
	}
	if c.NonWearMinWindowEpochs < 1 {
		return invalid("non_wear_min_window_epochs", "must be at least 1, got %d", c.NonWearMinWindowEpochs)
	}
	if c.NonWearZeroThreshold < 0 {
		return invalid("non_wear_zero_threshold", "must be non-negative, got %g", c.NonWearZeroThreshold)
	}
	if _, err := ParseClock(c.SleepWindowStart); err != nil {
		return invalid("sleep_window_start", "%v", err)
	}
	if _, err := ParseClock(c.SleepWindowEnd); err != nil {
		return invalid("sleep_window_end", "%v", err)
	}
	if c.SleepThreshold < 0 {
		return invalid("sleep_threshold", "must be non-negative, got %g", c.SleepThreshold)
	}
	if c.SleepMinRunEpochs < 1 {
		return invalid("sleep_min_run_epochs", "must be at least 1, got %d", c.SleepMinRunEpochs)
	}
	if len(c.ActivityThresholds) != 3 {
		return invalid("activity_thresholds", "need exactly 3 cut points, got %d", len(c.ActivityThresholds))
	}
	for i := 1; i < len(c.ActivityThresholds); i++ {
		if c.ActivityThresholds[i] <= c.ActivityThresholds[i-1] {
			return invalid("activity_thresholds", "must be strictly increasing, got %v", c.ActivityThresholds)
		}
	}
	if c.MinValidDayMinutes < 0 || c.MinValidDayMinutes > 24*60 {
		return invalid("min_valid_day_minutes", "must be between 0 and 1440, got %g", c.MinValidDayMinutes)
	}
	switch c.DayBoundaryMode {
	case DayCalendar, DayWear:
	default:
		return invalid("day_boundary_mode", "expected calendar|wear, got %q", c.DayBoundaryMode)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return invalid("timezone", "%v", err)
	}
	if c.MaxGapEpochs < 0 {
		return invalid("max_gap_epochs", "must be non-negative, got %d", c.MaxGapEpochs)
	}
	if len(c.Calibration) > epoch.MaxAxes {
		return invalid("calibration", "at most %d axes, got %d", epoch.MaxAxes, len(c.Calibration))
	}
	for i, cal := range c.Calibration {
		if cal.Gain == 0 {
			return invalid(fmt.Sprintf("calibration[%d].gain", i), "must be non-zero")
		}
	}
	if _, err := binfile.NewRegistry(c.profiles()); err != nil {
		return invalid("formats", "%v", err)
	}
	if c.CancelCheckEpochs < 1 {
		return invalid("cancel_check_epochs", "must be at least 1, got %d", c.CancelCheckEpochs)
	}
	return nil
}

// EpochDuration is the configured epoch length.
func (c Config) EpochDuration() time.Duration {
	return time.Duration(c.EpochDurationSeconds) * time.Second
}

// Location resolves Timezone. Call Validate first; an invalid name falls back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SleepWindow returns the nightly window bounds as offsets from local midnight.
func (c Config) SleepWindow() (start, end time.Duration) {
	start, _ = ParseClock(c.SleepWindowStart)
	end, _ = ParseClock(c.SleepWindowEnd)
	return start, end
}

// Thresholds returns the three intensity cut points.
func (c Config) Thresholds() [3]float64 {
	var t [3]float64
	copy(t[:], c.ActivityThresholds)
	return t
}

// AxisCalibration returns the calibration for axis i, identity when unset.
func (c Config) AxisCalibration(i int) Calibration {
	if i < len(c.Calibration) {
		return c.Calibration[i]
	}
	return Calibration{Gain: 1}
}

// Registry builds the format registry from Formats, or the default profiles when empty.
func (c Config) Registry() (*binfile.Registry, error) {
	return binfile.NewRegistry(c.profiles())
}

// ReaderOptions returns the header expectations for binfile readers.
func (c Config) ReaderOptions() binfile.ReaderOptions {
	return binfile.ReaderOptions{EpochDuration: c.EpochDuration(), Axes: c.AxisCount}
}

func (c Config) profiles() []binfile.Profile {
	if len(c.Formats) == 0 {
		return binfile.DefaultProfiles()
	}
	return c.Formats
}

// ParseClock parses a local "HH:MM" time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
