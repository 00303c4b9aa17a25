package l1spectral

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Pulses:            32,
		SamplesPerPulse:   64,
		RangeFFTSize:      64,
		DopplerFFTSize:    32,
		IntegrationFrames: 1,
	}
}

// toneMatrix builds a unit-amplitude complex tone at the given Doppler and
// range frequencies (in bins of the unpadded transform lengths).
func toneMatrix(t *testing.T, cfg Config, dopplerBin, rangeBin int) *SampleMatrix {
	t.Helper()
	m, err := NewSampleMatrix(nil, cfg.Pulses, cfg.SamplesPerPulse)
	require.NoError(t, err)
	for p := 0; p < cfg.Pulses; p++ {
		for s := 0; s < cfg.SamplesPerPulse; s++ {
			phase := 2 * math.Pi * (float64(rangeBin)*float64(s)/float64(cfg.SamplesPerPulse) +
				float64(dopplerBin)*float64(p)/float64(cfg.Pulses))
			m.Set(p, s, cmplx.Exp(complex(0, phase)))
		}
	}
	return m
}

func surfaceArgmax(s *Surface) (d, r int) {
	best := math.Inf(-1)
	for di := 0; di < s.DopplerBins; di++ {
		for ri := 0; ri < s.RangeBins; ri++ {
			if p := s.At(di, ri); p > best {
				best, d, r = p, di, ri
			}
		}
	}
	return d, r
}

func TestTransformAllZeroIsFiniteAndUniform(t *testing.T) {
	t.Parallel()
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	m, err := NewSampleMatrix(nil, 32, 64)
	require.NoError(t, err)

	surface, err := engine.Transform(m)
	require.NoError(t, err)

	for i, db := range surface.PowerDB {
		require.False(t, math.IsNaN(db) || math.IsInf(db, 0), "non-finite dB at index %d", i)
		assert.InDelta(t, surface.FloorDB, db, 1e-9)
	}
	assert.InDelta(t, -120.0, surface.FloorDB, 1e-9)
}

func TestTransformTonePeaksAtExpectedBin(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	m := toneMatrix(t, cfg, 4, 10)
	surface, err := engine.Transform(m)
	require.NoError(t, err)

	d, r := surfaceArgmax(surface)
	// Zero Doppler sits at the centre row, so Doppler bin 4 lands at 16+4.
	assert.Equal(t, cfg.DopplerFFTSize/2+4, d)
	assert.Equal(t, 10, r)

	for _, db := range surface.PowerDB {
		require.False(t, math.IsNaN(db) || math.IsInf(db, 0))
	}
}

func TestTransformEnergyPreservedAcrossFFTSizes(t *testing.T) {
	t.Parallel()
	base := testConfig()
	padded := base
	padded.RangeFFTSize = 128
	padded.DopplerFFTSize = 64

	engineA, err := NewEngine(base)
	require.NoError(t, err)
	engineB, err := NewEngine(padded)
	require.NoError(t, err)

	m := toneMatrix(t, base, 5, 20)

	surfA, err := engineA.Transform(m)
	require.NoError(t, err)
	surfB, err := engineB.Transform(m)
	require.NoError(t, err)

	total := func(s *Surface) float64 {
		var sum float64
		for _, p := range s.Power {
			sum += p
		}
		return sum
	}

	// Per-axis length normalisation makes total surface energy independent
	// of zero-padded FFT length (Parseval).
	assert.InEpsilon(t, total(surfA), total(surfB), 1e-9)
}

func TestNonCoherentIntegrationAverages(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.IntegrationFrames = 2
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	single, err := NewEngine(testConfig())
	require.NoError(t, err)

	tone := toneMatrix(t, cfg, 4, 10)
	zero, err := NewSampleMatrix(nil, cfg.Pulses, cfg.SamplesPerPulse)
	require.NoError(t, err)

	ref, err := single.Transform(tone)
	require.NoError(t, err)
	refPeak := ref.At(cfg.DopplerFFTSize/2+4, 10)

	_, err = engine.Transform(zero)
	require.NoError(t, err)
	integrated, err := engine.Transform(tone)
	require.NoError(t, err)

	// Averaging the tone frame with a preceding zero frame halves the peak.
	assert.InEpsilon(t, refPeak/2, integrated.At(cfg.DopplerFFTSize/2+4, 10), 1e-9)

	// Reset drops the ring so the next cycle stands alone again.
	engine.Reset()
	fresh, err := engine.Transform(tone)
	require.NoError(t, err)
	assert.InEpsilon(t, refPeak, fresh.At(cfg.DopplerFFTSize/2+4, 10), 1e-9)
}

func TestNonCoherentIntegrationRingWraps(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.IntegrationFrames = 3
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	tone := toneMatrix(t, cfg, 4, 10)
	// After more cycles than the ring holds, the average covers only the
	// last K identical frames and equals the single-frame value.
	var surface *Surface
	for i := 0; i < 6; i++ {
		surface, err = engine.Transform(tone)
		require.NoError(t, err)
	}

	single, err := NewEngine(testConfig())
	require.NoError(t, err)
	ref, err := single.Transform(tone)
	require.NoError(t, err)

	assert.InEpsilon(t, ref.At(20, 10), surface.At(20, 10), 1e-9)
}

func TestSampleMatrixZeroPadding(t *testing.T) {
	t.Parallel()

	t.Run("short input is padded", func(t *testing.T) {
		t.Parallel()
		iq := []complex128{1, 2, 3}
		m, err := NewSampleMatrix(iq, 4, 8)
		require.NoError(t, err)
		assert.Len(t, m.IQ, 32)
		assert.Equal(t, complex128(3), m.At(0, 2))
		assert.Equal(t, complex128(0), m.At(3, 7))
	})

	t.Run("oversized input is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewSampleMatrix(make([]complex128, 33), 4, 8)
		require.Error(t, err)
	})

	t.Run("undersized matrix transforms cleanly", func(t *testing.T) {
		t.Parallel()
		engine, err := NewEngine(testConfig())
		require.NoError(t, err)

		small, err := NewSampleMatrix(nil, 16, 32) // half the geometry
		require.NoError(t, err)
		surface, err := engine.Transform(small)
		require.NoError(t, err)
		for _, db := range surface.PowerDB {
			require.False(t, math.IsNaN(db) || math.IsInf(db, 0))
		}
	})

	t.Run("oversized matrix is rejected by the engine", func(t *testing.T) {
		t.Parallel()
		engine, err := NewEngine(testConfig())
		require.NoError(t, err)
		big, err := NewSampleMatrix(nil, 64, 64)
		require.NoError(t, err)
		_, err = engine.Transform(big)
		require.Error(t, err)
	})
}

func TestDefaultConfigLoads(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 64, cfg.Pulses)
	assert.Equal(t, 128, cfg.RangeFFTSize)
	assert.Equal(t, 5, cfg.IntegrationFrames)

	_, err := NewEngine(cfg)
	require.NoError(t, err)
}

func TestTransformDeterministic(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	engineA, err := NewEngine(cfg)
	require.NoError(t, err)
	engineB, err := NewEngine(cfg)
	require.NoError(t, err)

	m := toneMatrix(t, cfg, 7, 33)
	surfA, err := engineA.Transform(m)
	require.NoError(t, err)
	surfB, err := engineB.Transform(m)
	require.NoError(t, err)

	assert.Equal(t, surfA.Power, surfB.Power)
	assert.Equal(t, surfA.PowerDB, surfB.PowerDB)
}
