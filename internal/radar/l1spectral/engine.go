// Package l1spectral turns a slow-time/fast-time sample matrix into a
// range-Doppler intensity surface: windowed FFT along each axis, a centre
// shift so zero Doppler sits in the middle row, and an optional rolling
// non-coherent average over recent cycles.
package l1spectral

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/units"
)

// powerFloor clamps the decibel conversion argument away from zero so an
// all-zero surface stays finite. Corresponds to -120 dB.
const powerFloor = 1e-12

// Config holds the transform geometry. Dimensions are fixed once a
// tracking session starts; the engine rejects matrices that exceed them.
type Config struct {
	Pulses            int // slow-time rows per cycle
	SamplesPerPulse   int // fast-time samples per pulse
	RangeFFTSize      int // zero-padded fast-time FFT length
	DopplerFFTSize    int // zero-padded slow-time FFT length
	IntegrationFrames int // non-coherent integration depth K (1 = off)
}

// ConfigFromTuning builds an engine Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Pulses:            cfg.GetPulses(),
		SamplesPerPulse:   cfg.GetSamplesPerPulse(),
		RangeFFTSize:      cfg.GetRangeFFTSize(),
		DopplerFFTSize:    cfg.GetDopplerFFTSize(),
		IntegrationFrames: cfg.GetIntegrationFrames(),
	}
}

// DefaultConfig returns the engine configuration from the canonical tuning
// defaults file. Panics if the file cannot be found — intended for tests.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// Engine owns the FFT plans, the apodization windows, and the bounded
// ring buffer of prior power surfaces used for non-coherent integration.
// Not safe for concurrent use; the pipeline serialises cycles.
type Engine struct {
	cfg Config

	rangeFFT   *fourier.CmplxFFT
	dopplerFFT *fourier.CmplxFFT

	// Apodization coefficients: Hamming on fast time (range sidelobes),
	// Hann on slow time (Doppler sidelobes).
	rangeWindow   []float64
	dopplerWindow []float64

	// Ring buffer of the last K linear power surfaces.
	ring     [][]float64
	ringNext int
}

// NewEngine validates the geometry and precomputes FFT plans and windows.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Pulses <= 0 || cfg.SamplesPerPulse <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", cfg.Pulses, cfg.SamplesPerPulse)
	}
	if cfg.RangeFFTSize < cfg.SamplesPerPulse {
		return nil, fmt.Errorf("range FFT size %d below samples per pulse %d", cfg.RangeFFTSize, cfg.SamplesPerPulse)
	}
	if cfg.DopplerFFTSize < cfg.Pulses {
		return nil, fmt.Errorf("doppler FFT size %d below pulse count %d", cfg.DopplerFFTSize, cfg.Pulses)
	}
	if cfg.IntegrationFrames < 1 {
		cfg.IntegrationFrames = 1
	}

	// Window packages multiply a sequence in place; applying them to a
	// vector of ones yields the raw coefficients.
	rangeWin := make([]float64, cfg.SamplesPerPulse)
	for i := range rangeWin {
		rangeWin[i] = 1
	}
	window.Hamming(rangeWin)

	dopplerWin := make([]float64, cfg.Pulses)
	for i := range dopplerWin {
		dopplerWin[i] = 1
	}
	window.Hann(dopplerWin)

	return &Engine{
		cfg:           cfg,
		rangeFFT:      fourier.NewCmplxFFT(cfg.RangeFFTSize),
		dopplerFFT:    fourier.NewCmplxFFT(cfg.DopplerFFTSize),
		rangeWindow:   rangeWin,
		dopplerWindow: dopplerWin,
		ring:          make([][]float64, 0, cfg.IntegrationFrames),
	}, nil
}

// Config returns the engine's fixed geometry.
func (e *Engine) Config() Config { return e.cfg }

// Reset clears the non-coherent integration ring. Call when starting a new
// tracking session so stale surfaces do not bleed into the first cycles.
func (e *Engine) Reset() {
	e.ring = e.ring[:0]
	e.ringNext = 0
}

// Transform produces the range-Doppler surface for one cycle.
//
// Stages: fast-time Hamming window → zero-padded range FFT per pulse →
// slow-time Hann window → zero-padded Doppler FFT per range bin → centre
// shift → squared magnitude normalised by both transform lengths → rolling
// non-coherent mean over the last K surfaces → floored decibel conversion.
//
// A matrix smaller than the configured geometry is zero-padded per pulse
// (never truncated); a larger one is rejected.
func (e *Engine) Transform(m *SampleMatrix) (*Surface, error) {
	if m == nil {
		return nil, fmt.Errorf("nil sample matrix")
	}
	if m.Pulses > e.cfg.Pulses || m.SamplesPerPulse > e.cfg.SamplesPerPulse {
		return nil, fmt.Errorf("sample matrix %dx%d exceeds configured geometry %dx%d",
			m.Pulses, m.SamplesPerPulse, e.cfg.Pulses, e.cfg.SamplesPerPulse)
	}

	nd, nr := e.cfg.DopplerFFTSize, e.cfg.RangeFFTSize

	// Range axis: window and FFT each pulse. Missing pulses and missing
	// tail samples stay zero.
	rangeSpec := make([][]complex128, e.cfg.Pulses)
	row := make([]complex128, nr)
	for p := 0; p < e.cfg.Pulses; p++ {
		for i := range row {
			row[i] = 0
		}
		if p < m.Pulses {
			for s := 0; s < m.SamplesPerPulse; s++ {
				row[s] = m.At(p, s) * complex(e.rangeWindow[s], 0)
			}
		}
		rangeSpec[p] = e.rangeFFT.Coefficients(nil, row)
	}

	// Doppler axis: window down slow time, FFT each range column, and
	// centre-shift so zero Doppler lands on row nd/2.
	power := make([]float64, nd*nr)
	col := make([]complex128, nd)
	norm := float64(nr) * float64(nd)
	for r := 0; r < nr; r++ {
		for i := range col {
			col[i] = 0
		}
		for p := 0; p < e.cfg.Pulses; p++ {
			col[p] = rangeSpec[p][r] * complex(e.dopplerWindow[p], 0)
		}
		spec := e.dopplerFFT.Coefficients(nil, col)
		for d := 0; d < nd; d++ {
			shifted := (d + nd/2) % nd
			mag := cmplx.Abs(spec[d])
			power[shifted*nr+r] = mag * mag / norm
		}
	}

	// Non-coherent integration: average linear power over the bounded ring.
	integrated := e.integrate(power)

	db := make([]float64, len(integrated))
	for i, p := range integrated {
		db[i] = units.ToDecibels(p, powerFloor)
	}

	return &Surface{
		DopplerBins: nd,
		RangeBins:   nr,
		Power:       integrated,
		PowerDB:     db,
		FloorDB:     units.ToDecibels(powerFloor, powerFloor),
	}, nil
}

// integrate pushes the new power surface into the ring buffer and returns
// the element-wise mean of everything currently held.
func (e *Engine) integrate(power []float64) []float64 {
	if e.cfg.IntegrationFrames <= 1 {
		return power
	}

	if len(e.ring) < e.cfg.IntegrationFrames {
		e.ring = append(e.ring, power)
	} else {
		e.ring[e.ringNext] = power
		e.ringNext = (e.ringNext + 1) % e.cfg.IntegrationFrames
	}

	avg := make([]float64, len(power))
	for _, frame := range e.ring {
		for i, p := range frame {
			avg[i] += p
		}
	}
	scale := 1 / float64(len(e.ring))
	for i := range avg {
		avg[i] *= scale
	}
	return avg
}
