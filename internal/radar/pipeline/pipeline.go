// Package pipeline wires the processing layers into the per-cycle
// runtime: transform, detect, track, assess, decide. One RunCycle call is
// one complete perception-action cycle; the adaptation command it returns
// is applied to the detector only after the cycle has fully committed, so
// feedback crosses cycle boundaries and never mutates a cycle in flight.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/radar/l1spectral"
	"github.com/kestrel-data/pulse.report/internal/radar/l2detect"
	"github.com/kestrel-data/pulse.report/internal/radar/l3tracks"
	"github.com/kestrel-data/pulse.report/internal/radar/l4cognition"
	"github.com/kestrel-data/pulse.report/internal/units"
)

// TrackSnapshot is the exported view of one active track, stable across
// process restarts only in shape, not in ID.
type TrackSnapshot struct {
	ID          int64   `json:"id"`
	RangeMeters float64 `json:"range_m"`
	VelocityMps float64 `json:"velocity_mps"`
	State       string  `json:"state"`
	Confidence  float64 `json:"confidence"`
}

// SceneSummary is the per-cycle roll-up attached to every result.
type SceneSummary struct {
	RunID           string  `json:"run_id"`
	Cycle           int64   `json:"cycle"`
	ConfirmedTracks int     `json:"confirmed_tracks"`
	SNREstimateDB   float64 `json:"snr_estimate_db"`
	SceneType       string  `json:"scene_type"`
}

// CycleResult carries everything one cycle produced.
type CycleResult struct {
	Surface    *l1spectral.Surface
	Detections []l2detect.Detection
	Tracks     []TrackSnapshot
	Summary    SceneSummary
	Command    l4cognition.AdaptationCommand
}

// Pipeline owns the four processing layers. RunCycle is serialised by a
// single mutex: the layers share no locks between themselves during a
// cycle, so exclusivity lives here.
type Pipeline struct {
	mu sync.Mutex

	runID      string
	cycle      int64
	engine     *l1spectral.Engine
	detector   *l2detect.Detector
	tracker    *l3tracks.Tracker
	controller *l4cognition.Controller

	rangeBinMeters float64
	velocityBinMps float64
}

// New builds a pipeline from a loaded tuning configuration.
func New(cfg *config.TuningConfig) (*Pipeline, error) {
	engine, err := l1spectral.NewEngine(l1spectral.ConfigFromTuning(cfg))
	if err != nil {
		return nil, fmt.Errorf("building spectral engine: %w", err)
	}

	p := &Pipeline{
		runID:          uuid.NewString(),
		engine:         engine,
		detector:       l2detect.NewDetector(l2detect.ConfigFromTuning(cfg)),
		tracker:        l3tracks.NewTracker(l3tracks.ConfigFromTuning(cfg)),
		controller:     l4cognition.NewController(l4cognition.LimitsFromTuning(cfg)),
		rangeBinMeters: cfg.GetRangeBinMeters(),
		velocityBinMps: cfg.GetVelocityBinMps(),
	}
	opsf("pipeline %s ready: %dx%d matrix, %dx%d surface",
		p.runID, cfg.GetPulses(), cfg.GetSamplesPerPulse(),
		cfg.GetDopplerFFTSize(), cfg.GetRangeFFTSize())
	return p, nil
}

// RunID returns the identifier assigned to this pipeline instance.
func (p *Pipeline) RunID() string { return p.runID }

// Detector exposes the detector for threshold retuning between cycles.
func (p *Pipeline) Detector() *l2detect.Detector { return p.detector }

// Tracker exposes the tracker's read API.
func (p *Pipeline) Tracker() *l3tracks.Tracker { return p.tracker }

// Controller exposes the controller's command history.
func (p *Pipeline) Controller() *l4cognition.Controller { return p.controller }

// RunCycle executes one full perception-action cycle on the given sample
// matrix. confidences optionally overrides per-track confidence by track
// ID (externally fused evidence); pass nil when none exists.
//
// An error from the spectral stage abandons the cycle before the tracker
// is touched, so the track population remains exactly as the previous
// cycle left it. The command's threshold scale is applied to the detector
// only after the full cycle has committed.
func (p *Pipeline) RunCycle(m *l1spectral.SampleMatrix, confidences map[int64]float64, now time.Time) (*CycleResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	surface, err := p.engine.Transform(m)
	if err != nil {
		opsf("cycle %d abandoned: %v", p.cycle+1, err)
		return nil, fmt.Errorf("spectral transform: %w", err)
	}
	p.cycle++

	detections := p.detector.Detect(surface)

	observations := make([]l3tracks.Observation, len(detections))
	for i, det := range detections {
		observations[i] = l3tracks.Observation{
			RangeMeters: units.RangeFromBin(det.RangeBin, p.rangeBinMeters),
			VelocityMps: units.VelocityFromBin(det.DopplerBin, surface.DopplerBins, p.velocityBinMps),
			Power:       det.Power,
		}
	}
	p.tracker.Update(observations, now)

	active := p.tracker.ActiveTracks()
	assessment := p.controller.Assess(l4cognition.CycleContext{
		Surface:     surface,
		Tracks:      active,
		Confidences: confidences,
	})
	command := p.controller.Decide(assessment)

	snapshots := make([]TrackSnapshot, len(active))
	for i, tr := range active {
		snapshots[i] = TrackSnapshot{
			ID:          tr.ID,
			RangeMeters: tr.Range,
			VelocityMps: tr.Velocity,
			State:       tr.State.String(),
			Confidence:  tr.Confidence,
		}
	}

	result := &CycleResult{
		Surface:    surface,
		Detections: detections,
		Tracks:     snapshots,
		Summary: SceneSummary{
			RunID:           p.runID,
			Cycle:           p.cycle,
			ConfirmedTracks: assessment.ConfirmedTracks,
			SNREstimateDB:   assessment.SNREstimateDB,
			SceneType:       assessment.Scene.String(),
		},
		Command: command,
	}

	// Feedback lands after the cycle has fully committed.
	p.detector.SetAlphaScale(command.ThresholdScale)

	tracef("cycle %d: %d detections, %d active tracks, scene=%s",
		p.cycle, len(detections), len(snapshots), result.Summary.SceneType)
	return result, nil
}

// Reset clears per-session state (integration ring, track population,
// cycle counter) while keeping the run ID and configuration.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.Reset()
	p.tracker.Reset()
	p.detector.SetAlphaScale(1.0)
	p.cycle = 0
	diagf("pipeline %s reset", p.runID)
}
