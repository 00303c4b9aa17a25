package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the processing core.
// All fields are pointers so partial JSON files are safe: fields omitted
// from the file retain their defaults via the Get* accessors. The same
// schema is used for startup configuration and runtime updates.
type TuningConfig struct {
	// Acquisition geometry (fixed for a tracking session)
	Pulses            *int `json:"pulses,omitempty"`
	SamplesPerPulse   *int `json:"samples_per_pulse,omitempty"`
	RangeFFTSize      *int `json:"range_fft_size,omitempty"`
	DopplerFFTSize    *int `json:"doppler_fft_size,omitempty"`
	IntegrationFrames *int `json:"integration_frames,omitempty"`

	// Surface bin scaling
	RangeBinMeters *float64 `json:"range_bin_meters,omitempty"`
	VelocityBinMps *float64 `json:"velocity_bin_mps,omitempty"`

	// Detector params
	CFARMode          *string  `json:"cfar_mode,omitempty"` // "ca" or "os"
	CFARTrainingCells *int     `json:"cfar_training_cells,omitempty"`
	CFARGuardCells    *int     `json:"cfar_guard_cells,omitempty"`
	CFARPfa           *float64 `json:"cfar_pfa,omitempty"`
	CFAROSRank        *float64 `json:"cfar_os_rank,omitempty"`
	CFARFloorMarginDB *float64 `json:"cfar_floor_margin_db,omitempty"`

	// Tracker params
	GateSigma                *float64 `json:"gate_sigma,omitempty"`
	HitsToConfirm            *int     `json:"hits_to_confirm,omitempty"`
	MaxMissesProvisional     *int     `json:"max_misses_provisional,omitempty"`
	MaxCoastCycles           *int     `json:"max_coast_cycles,omitempty"`
	MaxTracks                *int     `json:"max_tracks,omitempty"`
	ProcessNoiseAccel        *float64 `json:"process_noise_accel,omitempty"`
	MeasurementNoiseRange    *float64 `json:"measurement_noise_range,omitempty"`
	MeasurementNoiseVelocity *float64 `json:"measurement_noise_velocity,omitempty"`
	MaxPredictDt             *float64 `json:"max_predict_dt,omitempty"`

	// Controller params
	MinScale          *float64 `json:"min_scale,omitempty"`
	MaxScale          *float64 `json:"max_scale,omitempty"`
	HistoryLength     *int     `json:"history_length,omitempty"`
	LowSNRThresholdDB *float64 `json:"low_snr_threshold_db,omitempty"`
	HighConfidence    *float64 `json:"high_confidence,omitempty"`
	SaturatedTracks   *int     `json:"saturated_tracks,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/radar/l1spectral/ etc.
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Pulses != nil && *c.Pulses <= 0 {
		return fmt.Errorf("pulses must be positive, got %d", *c.Pulses)
	}
	if c.SamplesPerPulse != nil && *c.SamplesPerPulse <= 0 {
		return fmt.Errorf("samples_per_pulse must be positive, got %d", *c.SamplesPerPulse)
	}
	if c.RangeFFTSize != nil && c.SamplesPerPulse != nil && *c.RangeFFTSize < *c.SamplesPerPulse {
		return fmt.Errorf("range_fft_size %d smaller than samples_per_pulse %d", *c.RangeFFTSize, *c.SamplesPerPulse)
	}
	if c.DopplerFFTSize != nil && c.Pulses != nil && *c.DopplerFFTSize < *c.Pulses {
		return fmt.Errorf("doppler_fft_size %d smaller than pulses %d", *c.DopplerFFTSize, *c.Pulses)
	}
	if c.IntegrationFrames != nil && *c.IntegrationFrames < 1 {
		return fmt.Errorf("integration_frames must be at least 1, got %d", *c.IntegrationFrames)
	}
	if c.CFARMode != nil && *c.CFARMode != "ca" && *c.CFARMode != "os" {
		return fmt.Errorf("cfar_mode must be \"ca\" or \"os\", got %q", *c.CFARMode)
	}
	if c.CFARPfa != nil && (*c.CFARPfa <= 0 || *c.CFARPfa >= 1) {
		return fmt.Errorf("cfar_pfa must be in (0, 1), got %g", *c.CFARPfa)
	}
	if c.CFARTrainingCells != nil && *c.CFARTrainingCells < 1 {
		return fmt.Errorf("cfar_training_cells must be at least 1, got %d", *c.CFARTrainingCells)
	}
	if c.CFARGuardCells != nil && *c.CFARGuardCells < 0 {
		return fmt.Errorf("cfar_guard_cells must be non-negative, got %d", *c.CFARGuardCells)
	}
	if c.CFAROSRank != nil && (*c.CFAROSRank <= 0 || *c.CFAROSRank > 1) {
		return fmt.Errorf("cfar_os_rank must be in (0, 1], got %g", *c.CFAROSRank)
	}
	if c.GateSigma != nil && *c.GateSigma <= 0 {
		return fmt.Errorf("gate_sigma must be positive, got %g", *c.GateSigma)
	}
	if c.MinScale != nil && c.MaxScale != nil && *c.MinScale >= *c.MaxScale {
		return fmt.Errorf("min_scale %g must be below max_scale %g", *c.MinScale, *c.MaxScale)
	}
	return nil
}

// GetPulses returns the pulses value or the default.
func (c *TuningConfig) GetPulses() int {
	if c.Pulses == nil {
		return 64
	}
	return *c.Pulses
}

// GetSamplesPerPulse returns the samples_per_pulse value or the default.
func (c *TuningConfig) GetSamplesPerPulse() int {
	if c.SamplesPerPulse == nil {
		return 64
	}
	return *c.SamplesPerPulse
}

// GetRangeFFTSize returns the range_fft_size value or the default.
func (c *TuningConfig) GetRangeFFTSize() int {
	if c.RangeFFTSize == nil {
		return 128
	}
	return *c.RangeFFTSize
}

// GetDopplerFFTSize returns the doppler_fft_size value or the default.
func (c *TuningConfig) GetDopplerFFTSize() int {
	if c.DopplerFFTSize == nil {
		return 64
	}
	return *c.DopplerFFTSize
}

// GetIntegrationFrames returns the integration_frames value or the default.
func (c *TuningConfig) GetIntegrationFrames() int {
	if c.IntegrationFrames == nil {
		return 5
	}
	return *c.IntegrationFrames
}

// GetRangeBinMeters returns the range_bin_meters value or the default.
func (c *TuningConfig) GetRangeBinMeters() float64 {
	if c.RangeBinMeters == nil {
		return 1.5
	}
	return *c.RangeBinMeters
}

// GetVelocityBinMps returns the velocity_bin_mps value or the default.
func (c *TuningConfig) GetVelocityBinMps() float64 {
	if c.VelocityBinMps == nil {
		return 0.5
	}
	return *c.VelocityBinMps
}

// GetCFARMode returns the cfar_mode value or the default.
func (c *TuningConfig) GetCFARMode() string {
	if c.CFARMode == nil {
		return "ca"
	}
	return *c.CFARMode
}

// GetCFARTrainingCells returns the cfar_training_cells value or the default.
func (c *TuningConfig) GetCFARTrainingCells() int {
	if c.CFARTrainingCells == nil {
		return 8
	}
	return *c.CFARTrainingCells
}

// GetCFARGuardCells returns the cfar_guard_cells value or the default.
func (c *TuningConfig) GetCFARGuardCells() int {
	if c.CFARGuardCells == nil {
		return 2
	}
	return *c.CFARGuardCells
}

// GetCFARPfa returns the cfar_pfa value or the default.
func (c *TuningConfig) GetCFARPfa() float64 {
	if c.CFARPfa == nil {
		return 1e-3
	}
	return *c.CFARPfa
}

// GetCFAROSRank returns the cfar_os_rank value or the default.
func (c *TuningConfig) GetCFAROSRank() float64 {
	if c.CFAROSRank == nil {
		return 0.75
	}
	return *c.CFAROSRank
}

// GetCFARFloorMarginDB returns the cfar_floor_margin_db value or the default.
func (c *TuningConfig) GetCFARFloorMarginDB() float64 {
	if c.CFARFloorMarginDB == nil {
		return 6.0
	}
	return *c.CFARFloorMarginDB
}

// GetGateSigma returns the gate_sigma value or the default.
func (c *TuningConfig) GetGateSigma() float64 {
	if c.GateSigma == nil {
		return 3.5
	}
	return *c.GateSigma
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxMissesProvisional returns the max_misses_provisional value or the default.
func (c *TuningConfig) GetMaxMissesProvisional() int {
	if c.MaxMissesProvisional == nil {
		return 2
	}
	return *c.MaxMissesProvisional
}

// GetMaxCoastCycles returns the max_coast_cycles value or the default.
func (c *TuningConfig) GetMaxCoastCycles() int {
	if c.MaxCoastCycles == nil {
		return 30
	}
	return *c.MaxCoastCycles
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 50
	}
	return *c.MaxTracks
}

// GetProcessNoiseAccel returns the process_noise_accel value or the default.
func (c *TuningConfig) GetProcessNoiseAccel() float64 {
	if c.ProcessNoiseAccel == nil {
		return 1.0
	}
	return *c.ProcessNoiseAccel
}

// GetMeasurementNoiseRange returns the measurement_noise_range value or the default.
func (c *TuningConfig) GetMeasurementNoiseRange() float64 {
	if c.MeasurementNoiseRange == nil {
		return 0.25
	}
	return *c.MeasurementNoiseRange
}

// GetMeasurementNoiseVelocity returns the measurement_noise_velocity value or the default.
func (c *TuningConfig) GetMeasurementNoiseVelocity() float64 {
	if c.MeasurementNoiseVelocity == nil {
		return 0.04
	}
	return *c.MeasurementNoiseVelocity
}

// GetMaxPredictDt returns the max_predict_dt value or the default.
func (c *TuningConfig) GetMaxPredictDt() float64 {
	if c.MaxPredictDt == nil {
		return 0.5
	}
	return *c.MaxPredictDt
}

// GetMinScale returns the min_scale value or the default.
func (c *TuningConfig) GetMinScale() float64 {
	if c.MinScale == nil {
		return 0.5
	}
	return *c.MinScale
}

// GetMaxScale returns the max_scale value or the default.
func (c *TuningConfig) GetMaxScale() float64 {
	if c.MaxScale == nil {
		return 2.0
	}
	return *c.MaxScale
}

// GetHistoryLength returns the history_length value or the default.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 32
	}
	return *c.HistoryLength
}

// GetLowSNRThresholdDB returns the low_snr_threshold_db value or the default.
func (c *TuningConfig) GetLowSNRThresholdDB() float64 {
	if c.LowSNRThresholdDB == nil {
		return 12.0
	}
	return *c.LowSNRThresholdDB
}

// GetHighConfidence returns the high_confidence value or the default.
func (c *TuningConfig) GetHighConfidence() float64 {
	if c.HighConfidence == nil {
		return 0.7
	}
	return *c.HighConfidence
}

// GetSaturatedTracks returns the saturated_tracks value or the default.
func (c *TuningConfig) GetSaturatedTracks() int {
	if c.SaturatedTracks == nil {
		return 40
	}
	return *c.SaturatedTracks
}
