// Package l4cognition closes the perception loop: it summarises each
// cycle's surface and track population into a scene assessment and turns
// that assessment into bounded adaptation commands for the acquisition
// and detection layers.
package l4cognition

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/radar"
	"github.com/kestrel-data/pulse.report/internal/radar/l1spectral"
	"github.com/kestrel-data/pulse.report/internal/radar/l3tracks"
)

// SceneType classifies the tactical picture for one cycle.
type SceneType int

const (
	// SceneSearching: no confirmed tracks.
	SceneSearching SceneType = iota
	// SceneAcquiring: confirmed tracks exist but confidence is still low.
	SceneAcquiring
	// SceneTracking: confirmed tracks with high mean confidence.
	SceneTracking
	// SceneSaturated: the track population is near capacity.
	SceneSaturated
)

// String returns the lowercase scene name.
func (s SceneType) String() string {
	switch s {
	case SceneSearching:
		return "searching"
	case SceneAcquiring:
		return "acquiring"
	case SceneTracking:
		return "tracking"
	case SceneSaturated:
		return "saturated"
	}
	return "unknown"
}

// CycleContext carries everything the controller inspects for one cycle:
// the integrated surface, the active track set, and any externally supplied
// per-track confidence overrides keyed by track ID.
type CycleContext struct {
	Surface     *l1spectral.Surface
	Tracks      []l3tracks.Track
	Confidences map[int64]float64
}

// Assessment is the controller's summary of one cycle.
type Assessment struct {
	Scene           SceneType
	ConfirmedTracks int
	MeanConfidence  float64
	SNREstimateDB   float64
}

// AdaptationCommand holds the multiplicative adjustments the controller
// requests for the next cycle. Every factor is guaranteed to lie inside
// the configured [MinScale, MaxScale] envelope; Reason records what drove
// the decision, including any clamping that was applied.
type AdaptationCommand struct {
	BandwidthScale float64 `json:"bandwidth_scale"`
	PowerScale     float64 `json:"power_scale"`
	ThresholdScale float64 `json:"threshold_scale"`
	DwellScale     float64 `json:"dwell_scale"`
	Reason         string  `json:"reason"`
}

// Limits bounds the controller's outputs and classification thresholds.
type Limits struct {
	MinScale          float64
	MaxScale          float64
	HistoryLength     int
	LowSNRThresholdDB float64
	HighConfidence    float64
	SaturatedTracks   int
}

// LimitsFromTuning builds controller Limits from a loaded TuningConfig.
func LimitsFromTuning(cfg *config.TuningConfig) Limits {
	return Limits{
		MinScale:          cfg.GetMinScale(),
		MaxScale:          cfg.GetMaxScale(),
		HistoryLength:     cfg.GetHistoryLength(),
		LowSNRThresholdDB: cfg.GetLowSNRThresholdDB(),
		HighConfidence:    cfg.GetHighConfidence(),
		SaturatedTracks:   cfg.GetSaturatedTracks(),
	}
}

// DefaultLimits returns the controller limits from the canonical tuning
// defaults file. Panics if the file cannot be found.
func DefaultLimits() Limits {
	return LimitsFromTuning(config.MustLoadDefaultConfig())
}

// Controller assesses cycles and issues adaptation commands. It keeps a
// bounded history of issued commands for inspection.
type Controller struct {
	limits Limits

	mu      sync.Mutex
	history []AdaptationCommand
}

// NewController creates a controller with the given limits. Degenerate
// envelopes fall back to [0.5, 2.0].
func NewController(limits Limits) *Controller {
	if limits.MinScale <= 0 || limits.MaxScale <= limits.MinScale {
		limits.MinScale = 0.5
		limits.MaxScale = 2.0
	}
	if limits.HistoryLength < 1 {
		limits.HistoryLength = 32
	}
	return &Controller{limits: limits}
}

// Assess summarises the cycle. The SNR proxy is peak dB minus median dB
// over the whole surface; confidence is the mean of the supplied
// per-track values, falling back to each track's own estimate.
func (c *Controller) Assess(ctx CycleContext) Assessment {
	var a Assessment

	if ctx.Surface != nil && len(ctx.Surface.PowerDB) > 0 {
		sorted := make([]float64, len(ctx.Surface.PowerDB))
		copy(sorted, ctx.Surface.PowerDB)
		sort.Float64s(sorted)
		peak := sorted[len(sorted)-1]
		median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
		a.SNREstimateDB = peak - median
	}

	var confSum float64
	var confN int
	for _, tr := range ctx.Tracks {
		if tr.State == l3tracks.StateConfirmed {
			a.ConfirmedTracks++
		}
		conf := tr.Confidence
		if v, ok := ctx.Confidences[tr.ID]; ok {
			conf = v
		}
		confSum += conf
		confN++
	}
	if confN > 0 {
		a.MeanConfidence = confSum / float64(confN)
	}

	switch {
	case len(ctx.Tracks) >= c.limits.SaturatedTracks && c.limits.SaturatedTracks > 0:
		a.Scene = SceneSaturated
	case a.ConfirmedTracks == 0:
		a.Scene = SceneSearching
	case a.MeanConfidence >= c.limits.HighConfidence:
		a.Scene = SceneTracking
	default:
		a.Scene = SceneAcquiring
	}

	radar.Tracef("assessment: scene=%s confirmed=%d mean_conf=%.2f snr=%.1fdB",
		a.Scene, a.ConfirmedTracks, a.MeanConfidence, a.SNREstimateDB)
	return a
}

// Decide maps an assessment to an adaptation command. The raw factors may
// exceed the envelope; they are clamped before the command is issued and
// any clamping is recorded in Reason.
func (c *Controller) Decide(a Assessment) AdaptationCommand {
	cmd := AdaptationCommand{
		BandwidthScale: 1.0,
		PowerScale:     1.0,
		ThresholdScale: 1.0,
		DwellScale:     1.0,
	}
	var reasons []string

	lowSNR := a.SNREstimateDB < c.limits.LowSNRThresholdDB

	switch a.Scene {
	case SceneSearching:
		// Nothing held: widen the net. More power and dwell, looser
		// threshold; much more aggressive when the surface itself is weak.
		cmd.PowerScale = 1.5
		cmd.DwellScale = 1.25
		cmd.ThresholdScale = 0.8
		reasons = append(reasons, "searching: raising power and dwell")
		if lowSNR {
			cmd.PowerScale = 2.5
			cmd.BandwidthScale = 1.5
			reasons = append(reasons, fmt.Sprintf("low snr %.1fdB: pushing power and bandwidth", a.SNREstimateDB))
		}
	case SceneAcquiring:
		cmd.DwellScale = 1.25
		cmd.ThresholdScale = 0.9
		reasons = append(reasons, "acquiring: extending dwell to firm up tracks")
		if lowSNR {
			cmd.PowerScale = 1.5
			reasons = append(reasons, fmt.Sprintf("low snr %.1fdB: raising power", a.SNREstimateDB))
		}
	case SceneTracking:
		// Confident, stable scene: relax everything toward nominal.
		reasons = append(reasons, "tracking: scene stable, holding nominal")
	case SceneSaturated:
		// Population near capacity: tighten the detector to shed clutter
		// and pull back illumination.
		cmd.ThresholdScale = 1.5
		cmd.PowerScale = 0.75
		cmd.DwellScale = 0.25
		reasons = append(reasons, "saturated: tightening threshold, reducing dwell")
	}

	clamped := c.clamp(&cmd.BandwidthScale, "bandwidth")
	clamped = append(clamped, c.clamp(&cmd.PowerScale, "power")...)
	clamped = append(clamped, c.clamp(&cmd.ThresholdScale, "threshold")...)
	clamped = append(clamped, c.clamp(&cmd.DwellScale, "dwell")...)
	if len(clamped) > 0 {
		reasons = append(reasons, "clamped: "+strings.Join(clamped, ", "))
	}
	cmd.Reason = strings.Join(reasons, "; ")

	c.mu.Lock()
	c.history = append(c.history, cmd)
	if len(c.history) > c.limits.HistoryLength {
		c.history = c.history[len(c.history)-c.limits.HistoryLength:]
	}
	c.mu.Unlock()

	radar.Diagf("adaptation: bw=%.2f pwr=%.2f thr=%.2f dwell=%.2f (%s)",
		cmd.BandwidthScale, cmd.PowerScale, cmd.ThresholdScale, cmd.DwellScale, cmd.Reason)
	return cmd
}

// clamp forces a factor into the envelope, returning a note when it had
// to move.
func (c *Controller) clamp(v *float64, name string) []string {
	if *v < c.limits.MinScale {
		note := fmt.Sprintf("%s %.2f -> %.2f", name, *v, c.limits.MinScale)
		*v = c.limits.MinScale
		return []string{note}
	}
	if *v > c.limits.MaxScale {
		note := fmt.Sprintf("%s %.2f -> %.2f", name, *v, c.limits.MaxScale)
		*v = c.limits.MaxScale
		return []string{note}
	}
	return nil
}

// History returns a copy of the most recent commands, oldest first.
func (c *Controller) History() []AdaptationCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AdaptationCommand, len(c.history))
	copy(out, c.history)
	return out
}
