package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTuningConfigPartial(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "partial.json", `{"cfar_pfa": 0.01, "max_tracks": 10}`)
	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	// Explicit values win.
	assert.InDelta(t, 0.01, cfg.GetCFARPfa(), 1e-12)
	assert.Equal(t, 10, cfg.GetMaxTracks())

	// Omitted fields fall back to defaults.
	assert.Equal(t, 64, cfg.GetPulses())
	assert.Equal(t, 3, cfg.GetHitsToConfirm())
	assert.Equal(t, "ca", cfg.GetCFARMode())
	assert.InDelta(t, 3.5, cfg.GetGateSigma(), 1e-12)
}

func TestLoadTuningConfigRejectsBadFiles(t *testing.T) {
	t.Parallel()

	t.Run("wrong extension", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "tuning.yaml", `{}`)
		_, err := LoadTuningConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		path := writeConfig(t, "bad.json", `{"pulses": `)
		_, err := LoadTuningConfig(path)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*TuningConfig)
		wantErr string
	}{
		{"pfa too large", func(c *TuningConfig) { v := 1.5; c.CFARPfa = &v }, "cfar_pfa"},
		{"pfa zero", func(c *TuningConfig) { v := 0.0; c.CFARPfa = &v }, "cfar_pfa"},
		{"bad mode", func(c *TuningConfig) { v := "goca"; c.CFARMode = &v }, "cfar_mode"},
		{"range fft under samples", func(c *TuningConfig) {
			n := 64
			f := 32
			c.SamplesPerPulse = &n
			c.RangeFFTSize = &f
		}, "range_fft_size"},
		{"doppler fft under pulses", func(c *TuningConfig) {
			n := 64
			f := 32
			c.Pulses = &n
			c.DopplerFFTSize = &f
		}, "doppler_fft_size"},
		{"scales inverted", func(c *TuningConfig) {
			lo := 2.0
			hi := 1.0
			c.MinScale = &lo
			c.MaxScale = &hi
		}, "min_scale"},
		{"negative guard", func(c *TuningConfig) { v := -1; c.CFARGuardCells = &v }, "cfar_guard_cells"},
		{"os rank over one", func(c *TuningConfig) { v := 1.2; c.CFAROSRank = &v }, "cfar_os_rank"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := EmptyTuningConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("empty config is valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, EmptyTuningConfig().Validate())
	})
}

func TestMustLoadDefaultConfigMatchesFallbacks(t *testing.T) {
	t.Parallel()

	// The shipped defaults file must agree with the in-code fallbacks so an
	// omitted field and the shipped value mean the same thing.
	summarise := func(c *TuningConfig) map[string]float64 {
		return map[string]float64{
			"pulses":             float64(c.GetPulses()),
			"samples_per_pulse":  float64(c.GetSamplesPerPulse()),
			"range_fft_size":     float64(c.GetRangeFFTSize()),
			"doppler_fft_size":   float64(c.GetDopplerFFTSize()),
			"integration_frames": float64(c.GetIntegrationFrames()),
			"cfar_pfa":           c.GetCFARPfa(),
			"gate_sigma":         c.GetGateSigma(),
			"hits_to_confirm":    float64(c.GetHitsToConfirm()),
			"max_coast_cycles":   float64(c.GetMaxCoastCycles()),
			"max_tracks":         float64(c.GetMaxTracks()),
			"min_scale":          c.GetMinScale(),
			"max_scale":          c.GetMaxScale(),
		}
	}

	if diff := cmp.Diff(summarise(EmptyTuningConfig()), summarise(MustLoadDefaultConfig())); diff != "" {
		t.Errorf("defaults file disagrees with in-code fallbacks (-code +file):\n%s", diff)
	}
}
