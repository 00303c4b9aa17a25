package pipeline

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/radar/l1spectral"
	"github.com/kestrel-data/pulse.report/internal/radar/l3tracks"
	"github.com/kestrel-data/pulse.report/internal/radar/l4cognition"
)

// target is a synthetic point scatterer for the matrix generator.
type target struct {
	rangeM    float64 // metres
	velocity  float64 // m/s
	amplitude float64
}

// generateMatrix synthesises one cycle of baseband samples: seeded complex
// Gaussian noise plus one complex tone per target, placed so the windowed
// 2D FFT concentrates its energy at the expected surface cell.
func generateMatrix(t *testing.T, cfg *config.TuningConfig, rng *rand.Rand, targets []target) *l1spectral.SampleMatrix {
	t.Helper()

	pulses := cfg.GetPulses()
	samples := cfg.GetSamplesPerPulse()
	nr := cfg.GetRangeFFTSize()
	nd := cfg.GetDopplerFFTSize()

	iq := make([]complex128, pulses*samples)
	for i := range iq {
		iq[i] = complex(rng.NormFloat64()*0.05, rng.NormFloat64()*0.05)
	}

	for _, tgt := range targets {
		rangeBin := tgt.rangeM / cfg.GetRangeBinMeters()
		dopplerCycles := tgt.velocity / cfg.GetVelocityBinMps()
		for p := 0; p < pulses; p++ {
			for s := 0; s < samples; s++ {
				phase := 2 * math.Pi * (rangeBin*float64(s)/float64(nr) + dopplerCycles*float64(p)/float64(nd))
				iq[p*samples+s] += complex(tgt.amplitude*math.Cos(phase), tgt.amplitude*math.Sin(phase))
			}
		}
	}

	m, err := l1spectral.NewSampleMatrix(iq, pulses, samples)
	require.NoError(t, err)
	return m
}

func newTestPipeline(t *testing.T) (*Pipeline, *config.TuningConfig) {
	t.Helper()
	cfg := config.MustLoadDefaultConfig()
	p, err := New(cfg)
	require.NoError(t, err)
	return p, cfg
}

func TestClosedLoopConfirmsInjectedTarget(t *testing.T) {
	t.Parallel()

	p, cfg := newTestPipeline(t)
	rng := rand.New(rand.NewSource(1))
	now := time.Unix(1700000000, 0)

	const v = -10.0
	var last *CycleResult
	for i := 0; i < 10; i++ {
		tgt := target{rangeM: 60 + v*0.1*float64(i), velocity: v, amplitude: 1.0}
		m := generateMatrix(t, cfg, rng, []target{tgt})

		var err error
		last, err = p.RunCycle(m, nil, now)
		require.NoError(t, err)
		now = now.Add(100 * time.Millisecond)
	}

	require.NotEmpty(t, last.Tracks, "ten clean cycles must yield a confirmed track")
	tr := last.Tracks[0]
	assert.Equal(t, "confirmed", tr.State)
	assert.InDelta(t, v, tr.VelocityMps, 1.0)
	assert.InDelta(t, 60+v*0.1*9, tr.RangeMeters, 3.0)
	assert.Greater(t, last.Summary.ConfirmedTracks, 0)
	assert.Equal(t, p.RunID(), last.Summary.RunID)
}

func TestQuietSceneStaysSearching(t *testing.T) {
	t.Parallel()

	p, cfg := newTestPipeline(t)
	rng := rand.New(rand.NewSource(2))

	m := generateMatrix(t, cfg, rng, nil)
	res, err := p.RunCycle(m, nil, time.Unix(1700000000, 0))
	require.NoError(t, err)

	assert.Empty(t, res.Tracks)
	assert.Equal(t, "searching", res.Summary.SceneType)
	assert.NotEmpty(t, res.Command.Reason)
}

func TestThresholdFeedbackLandsAfterCycle(t *testing.T) {
	t.Parallel()

	p, cfg := newTestPipeline(t)
	rng := rand.New(rand.NewSource(3))
	require.InDelta(t, 1.0, p.Detector().AlphaScale(), 1e-12)

	m := generateMatrix(t, cfg, rng, nil)
	res, err := p.RunCycle(m, nil, time.Unix(1700000000, 0))
	require.NoError(t, err)

	// Whatever the controller decided is now staged on the detector for
	// the next cycle.
	assert.InDelta(t, res.Command.ThresholdScale, p.Detector().AlphaScale(), 1e-12)
}

func TestAbandonedCycleLeavesTracksIntact(t *testing.T) {
	t.Parallel()

	p, cfg := newTestPipeline(t)
	rng := rand.New(rand.NewSource(4))
	now := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		tgt := target{rangeM: 60 - float64(i), velocity: -10, amplitude: 1.0}
		m := generateMatrix(t, cfg, rng, []target{tgt})
		_, err := p.RunCycle(m, nil, now)
		require.NoError(t, err)
		now = now.Add(100 * time.Millisecond)
	}
	before := p.Tracker().AllTracks()
	require.NotEmpty(t, before)

	// Oversize matrix: the spectral stage rejects it and the cycle aborts
	// before the tracker runs.
	oversize := &l1spectral.SampleMatrix{
		Pulses:          cfg.GetPulses() + 1,
		SamplesPerPulse: cfg.GetSamplesPerPulse(),
		IQ:              make([]complex128, (cfg.GetPulses()+1)*cfg.GetSamplesPerPulse()),
	}
	_, err := p.RunCycle(oversize, nil, now)
	require.Error(t, err)

	if diff := cmp.Diff(before, p.Tracker().AllTracks()); diff != "" {
		t.Errorf("track population changed across an abandoned cycle (-before +after):\n%s", diff)
	}
}

func TestPipelineIsDeterministic(t *testing.T) {
	t.Parallel()

	run := func() ([]TrackSnapshot, []l3tracks.Track) {
		p, cfg := newTestPipeline(t)
		rng := rand.New(rand.NewSource(7))
		now := time.Unix(1700000000, 0)

		var last *CycleResult
		for i := 0; i < 8; i++ {
			tgt := target{rangeM: 75 - 1.2*float64(i), velocity: -12, amplitude: 0.8}
			m := generateMatrix(t, cfg, rng, []target{tgt})
			var err error
			last, err = p.RunCycle(m, nil, now)
			require.NoError(t, err)
			now = now.Add(100 * time.Millisecond)
		}
		return last.Tracks, p.Tracker().AllTracks()
	}

	snapsA, tracksA := run()
	snapsB, tracksB := run()

	if diff := cmp.Diff(snapsA, snapsB); diff != "" {
		t.Errorf("snapshots diverged across identical runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(tracksA, tracksB); diff != "" {
		t.Errorf("track state diverged across identical runs (-first +second):\n%s", diff)
	}
}

func TestResetClearsSessionState(t *testing.T) {
	t.Parallel()

	p, cfg := newTestPipeline(t)
	rng := rand.New(rand.NewSource(9))
	now := time.Unix(1700000000, 0)

	for i := 0; i < 4; i++ {
		m := generateMatrix(t, cfg, rng, []target{{rangeM: 45, velocity: 5, amplitude: 1.0}})
		_, err := p.RunCycle(m, nil, now)
		require.NoError(t, err)
		now = now.Add(100 * time.Millisecond)
	}
	require.NotZero(t, p.Tracker().TrackCount())

	p.Reset()
	assert.Zero(t, p.Tracker().TrackCount())
	assert.InDelta(t, 1.0, p.Detector().AlphaScale(), 1e-12)
}

func TestAcquisitionParamsApply(t *testing.T) {
	t.Parallel()

	params := DefaultAcquisitionParams()

	t.Run("scales within envelope", func(t *testing.T) {
		t.Parallel()
		p, cfg := newTestPipeline(t)
		rng := rand.New(rand.NewSource(11))
		res, err := p.RunCycle(generateMatrix(t, cfg, rng, nil), nil, time.Unix(1700000000, 0))
		require.NoError(t, err)

		next, err := params.Apply(res.Command)
		require.NoError(t, err)
		assert.InDelta(t, params.BandwidthHz*res.Command.BandwidthScale, next.BandwidthHz, 1e-6)
		assert.InDelta(t, params.TransmitPowerW*res.Command.PowerScale, next.TransmitPowerW, 1e-9)
		assert.InDelta(t, params.DwellTimeS*res.Command.DwellScale, next.DwellTimeS, 1e-12)
	})

	t.Run("invalid command keeps previous params", func(t *testing.T) {
		t.Parallel()
		// A zero-valued command multiplies everything to zero, which fails
		// validation; the caller keeps the last good set.
		next, err := params.Apply(l4cognition.AdaptationCommand{})
		require.Error(t, err)
		if diff := cmp.Diff(params, next); diff != "" {
			t.Errorf("params changed on rejected command (-want +got):\n%s", diff)
		}
	})
}
