// Package l2detect thresholds a range-Doppler surface with a constant
// false-alarm-rate estimator and collapses contiguous threshold crossings
// into one observation per target.
package l2detect

import (
	"math"
	"sort"
	"sync"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/radar/l1spectral"
	"github.com/kestrel-data/pulse.report/internal/units"
)

// CFARMode selects the noise estimator. The set is closed: there are
// exactly two variants and no plugin requirement.
type CFARMode int

const (
	// CellAveraging estimates local noise as the mean of the training
	// annulus. Optimal in homogeneous noise.
	CellAveraging CFARMode = iota
	// OrderedStatistics estimates noise as the k-th ranked training cell.
	// Robust when multiple targets share one training window.
	OrderedStatistics
)

// Config holds the detector parameters.
type Config struct {
	Mode          CFARMode
	TrainingCells int     // training cells per side beyond the guard band
	GuardCells    int     // guard cells per side around the cell under test
	Pfa           float64 // configured false-alarm probability
	OSRank        float64 // rank fraction for OrderedStatistics (k ≈ OSRank·N)
	FloorMarginDB float64 // absolute floor margin above the surface's dB floor
}

// ConfigFromTuning builds a detector Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	mode := CellAveraging
	if cfg.GetCFARMode() == "os" {
		mode = OrderedStatistics
	}
	return Config{
		Mode:          mode,
		TrainingCells: cfg.GetCFARTrainingCells(),
		GuardCells:    cfg.GetCFARGuardCells(),
		Pfa:           cfg.GetCFARPfa(),
		OSRank:        cfg.GetCFAROSRank(),
		FloorMarginDB: cfg.GetCFARFloorMarginDB(),
	}
}

// DefaultConfig returns the detector configuration from the canonical
// tuning defaults file. Panics if the file cannot be found — intended for
// tests and binaries that have already validated config availability.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// Detection is one clustered observation surviving CFAR thresholding:
// the locally maximal cell of a connected component of threshold crossings.
// Ephemeral — consumed by the tracker within the same cycle.
type Detection struct {
	DopplerBin int
	RangeBin   int
	Power      float64
	PowerDB    float64
}

// Detector applies CFAR thresholding and clustering to a surface. The
// alpha scale is the only mutable field; it is retuned between cycles by
// the cognitive controller, so it sits behind its own lock.
type Detector struct {
	cfg Config

	mu         sync.RWMutex
	alphaScale float64
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	if cfg.OSRank <= 0 || cfg.OSRank > 1 {
		cfg.OSRank = 0.75
	}
	return &Detector{cfg: cfg, alphaScale: 1.0}
}

// SetAlphaScale applies the controller's threshold multiplier for the next
// cycle. Values at or below zero reset to nominal.
func (d *Detector) SetAlphaScale(scale float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if scale <= 0 {
		scale = 1.0
	}
	d.alphaScale = scale
}

// AlphaScale returns the current threshold multiplier.
func (d *Detector) AlphaScale() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.alphaScale
}

// Detect thresholds the surface and returns one observation per connected
// component of crossings. An empty or all-floor surface yields nil without
// error.
func (d *Detector) Detect(s *l1spectral.Surface) []Detection {
	if s == nil || s.DopplerBins == 0 || s.RangeBins == 0 {
		return nil
	}
	mask := d.thresholdMask(s)
	return clusterMask(s, mask)
}

// thresholdMask returns the boolean detection mask before clustering.
func (d *Detector) thresholdMask(s *l1spectral.Surface) []bool {
	d.mu.RLock()
	alphaScale := d.alphaScale
	d.mu.RUnlock()

	rows, cols := s.DopplerBins, s.RangeBins
	mask := make([]bool, rows*cols)
	absFloor := units.FromDecibels(s.FloorDB + d.cfg.FloorMarginDB)

	var sat []float64
	if d.cfg.Mode == CellAveraging {
		sat = summedAreaTable(s)
	}

	outer := d.cfg.TrainingCells + d.cfg.GuardCells
	inner := d.cfg.GuardCells
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p := s.At(r, c)
			if p <= absFloor {
				continue
			}

			var noise float64
			var n int
			switch d.cfg.Mode {
			case CellAveraging:
				noise, n = d.caNoise(s, sat, r, c, outer, inner)
			case OrderedStatistics:
				noise, n = d.osNoise(s, r, c, outer, inner)
			}
			if n == 0 {
				continue
			}
			// Degenerate noise estimates fall back to the absolute floor
			// rather than producing a divide-through-zero threshold.
			if noise <= 0 {
				noise = absFloor
			}

			alpha := cfarAlpha(n, d.cfg.Pfa) * alphaScale
			if p > noise*alpha {
				mask[r*cols+c] = true
			}
		}
	}
	return mask
}

// cfarAlpha is the analytic CA-CFAR threshold multiplier
// α = N·(Pfa^(−1/N) − 1) for N training cells at false-alarm rate Pfa.
func cfarAlpha(n int, pfa float64) float64 {
	nf := float64(n)
	return nf * (math.Pow(pfa, -1/nf) - 1)
}

// summedAreaTable builds an integral image of linear power so any
// rectangular window sums in O(1).
func summedAreaTable(s *l1spectral.Surface) []float64 {
	rows, cols := s.DopplerBins, s.RangeBins
	sat := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		var rowSum float64
		for c := 0; c < cols; c++ {
			rowSum += s.At(r, c)
			sat[r*cols+c] = rowSum
			if r > 0 {
				sat[r*cols+c] += sat[(r-1)*cols+c]
			}
		}
	}
	return sat
}

// rectSum returns the power sum over the edge-clamped rectangle
// [r0,r1]×[c0,c1] along with its cell count.
func rectSum(sat []float64, rows, cols, r0, c0, r1, c1 int) (float64, int) {
	if r0 < 0 {
		r0 = 0
	}
	if c0 < 0 {
		c0 = 0
	}
	if r1 >= rows {
		r1 = rows - 1
	}
	if c1 >= cols {
		c1 = cols - 1
	}
	if r0 > r1 || c0 > c1 {
		return 0, 0
	}
	sum := sat[r1*cols+c1]
	if r0 > 0 {
		sum -= sat[(r0-1)*cols+c1]
	}
	if c0 > 0 {
		sum -= sat[r1*cols+c0-1]
	}
	if r0 > 0 && c0 > 0 {
		sum += sat[(r0-1)*cols+c0-1]
	}
	return sum, (r1 - r0 + 1) * (c1 - c0 + 1)
}

// caNoise estimates local noise power as the mean of the training annulus:
// the outer window minus the guard window, both edge-clamped.
func (d *Detector) caNoise(s *l1spectral.Surface, sat []float64, r, c, outer, inner int) (float64, int) {
	rows, cols := s.DopplerBins, s.RangeBins
	outerSum, outerN := rectSum(sat, rows, cols, r-outer, c-outer, r+outer, c+outer)
	innerSum, innerN := rectSum(sat, rows, cols, r-inner, c-inner, r+inner, c+inner)
	n := outerN - innerN
	if n <= 0 {
		return 0, 0
	}
	return (outerSum - innerSum) / float64(n), n
}

// osNoise estimates local noise power as the k-th ranked value among the
// edge-clamped training cells, k = round(OSRank·N).
func (d *Detector) osNoise(s *l1spectral.Surface, r, c, outer, inner int) (float64, int) {
	rows, cols := s.DopplerBins, s.RangeBins
	training := make([]float64, 0, (2*outer+1)*(2*outer+1))
	for ri := r - outer; ri <= r+outer; ri++ {
		if ri < 0 || ri >= rows {
			continue
		}
		for ci := c - outer; ci <= c+outer; ci++ {
			if ci < 0 || ci >= cols {
				continue
			}
			// Skip the guard window (which also covers the cell under test).
			if ri >= r-inner && ri <= r+inner && ci >= c-inner && ci <= c+inner {
				continue
			}
			training = append(training, s.At(ri, ci))
		}
	}
	n := len(training)
	if n == 0 {
		return 0, 0
	}
	sort.Float64s(training)
	k := int(math.Round(d.cfg.OSRank*float64(n))) - 1
	if k < 0 {
		k = 0
	}
	if k >= n {
		k = n - 1
	}
	return training[k], n
}
