// Package l3tracks maintains kinematic tracks over clustered detections.
// Each track runs a constant-acceleration Kalman filter in the radial
// dimension; observations associate to tracks by gated Mahalanobis
// distance and tracks move through a provisional/confirmed/coasting
// lifecycle before deletion.
package l3tracks

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/radar"
)

const (
	// MinDeterminantThreshold guards matrix inversion: innovation
	// covariances with a determinant below this are treated as singular.
	MinDeterminantThreshold = 1e-12

	// SingularDistanceRejection is the distance assigned to track/observation
	// pairs whose innovation covariance is singular. It exceeds any gate.
	SingularDistanceRejection = 1e9

	// defaultFirstCycleDt is the prediction interval assumed on the very
	// first update, before any cycle-to-cycle timing exists.
	defaultFirstCycleDt = 0.1

	// initialAccelVariance seeds the acceleration covariance of a newly
	// spawned track; acceleration is unobserved until a few cycles in.
	initialAccelVariance = 4.0
)

// TrackState is the lifecycle stage of a track.
type TrackState int

const (
	// StateProvisional marks a newly spawned, unconfirmed track.
	StateProvisional TrackState = iota
	// StateConfirmed marks a track with enough consecutive evidence.
	StateConfirmed
	// StateCoasting marks a confirmed track predicting without detections.
	StateCoasting
	// StateDeleted marks a track pending removal at end of cycle.
	StateDeleted
)

// String returns the lowercase state name.
func (s TrackState) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StateConfirmed:
		return "confirmed"
	case StateCoasting:
		return "coasting"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

// Observation is one detector output converted to physical units.
type Observation struct {
	RangeMeters float64
	VelocityMps float64
	Power       float64
}

// Track is the full kinematic state of one tracked object. The covariance
// is the row-major 3x3 over [range, velocity, acceleration].
type Track struct {
	ID    int64
	State TrackState

	Range    float64 // metres
	Velocity float64 // m/s, negative closing
	Accel    float64 // m/s²
	P        [9]float64

	AgeCycles   int
	Hits        int // consecutive hits in the current run
	Misses      int // consecutive misses
	TotalHits   int // lifetime associated detections
	CoastCycles int

	Confidence float64

	FirstUnixNanos int64
	LastUnixNanos  int64
}

// Config holds the tracker parameters.
type Config struct {
	GateSigma                float64
	HitsToConfirm            int
	MaxMissesProvisional     int
	MaxCoastCycles           int
	MaxTracks                int
	ProcessNoiseAccel        float64
	MeasurementNoiseRange    float64
	MeasurementNoiseVelocity float64
	MaxPredictDt             float64
}

// ConfigFromTuning builds a tracker Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		GateSigma:                cfg.GetGateSigma(),
		HitsToConfirm:            cfg.GetHitsToConfirm(),
		MaxMissesProvisional:     cfg.GetMaxMissesProvisional(),
		MaxCoastCycles:           cfg.GetMaxCoastCycles(),
		MaxTracks:                cfg.GetMaxTracks(),
		ProcessNoiseAccel:        cfg.GetProcessNoiseAccel(),
		MeasurementNoiseRange:    cfg.GetMeasurementNoiseRange(),
		MeasurementNoiseVelocity: cfg.GetMeasurementNoiseVelocity(),
		MaxPredictDt:             cfg.GetMaxPredictDt(),
	}
}

// DefaultConfig returns the tracker configuration from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// Tracker owns the track population. Update mutates it under the write
// lock; the read API returns deep copies so callers never hold references
// into the live store.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	tracks *arena
	nextID int64

	lastUpdateNanos int64
	// lastAssignments maps track ID to the index of the observation it
	// consumed in the most recent Update call.
	lastAssignments map[int64]int
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:             cfg,
		tracks:          newArena(),
		nextID:          1,
		lastAssignments: map[int64]int{},
	}
}

// candidate pairs one track/observation cost for the greedy pass.
type candidate struct {
	trackIdx int
	obsIdx   int
	dist     float64
}

// Update runs one full tracking cycle against the cycle's observations:
// predict every track forward, associate observations by greedy minimum
// Mahalanobis distance inside the gate, apply hit/miss lifecycle
// transitions, spawn provisional tracks from unclaimed observations, and
// prune. All state work happens on copies and commits at the end, so a
// caller that abandons a cycle before Update leaves the population exactly
// as the previous cycle left it.
func (t *Tracker) Update(observations []Observation, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowNanos := now.UnixNano()
	dt := defaultFirstCycleDt
	if t.lastUpdateNanos != 0 {
		dt = float64(nowNanos-t.lastUpdateNanos) / float64(time.Second)
	}
	if dt <= 0 {
		dt = defaultFirstCycleDt
	}
	if dt > t.cfg.MaxPredictDt {
		dt = t.cfg.MaxPredictDt
	}

	// Working copies of the live population, in ascending ID order.
	ids := t.tracks.ids()
	working := make([]Track, len(ids))
	for i, id := range ids {
		working[i] = *t.tracks.get(id)
	}

	// Predict. Tracks whose state goes non-finite are dropped outright.
	for i := range working {
		predict(&working[i], dt, t.cfg.ProcessNoiseAccel)
		working[i].AgeCycles++
		if !isFiniteState(&working[i]) {
			radar.Diagf("track %d went non-finite during predict, deleting", working[i].ID)
			working[i].State = StateDeleted
		}
	}

	// Gated association: every in-gate pair goes into one pool and the
	// globally smallest distances claim first.
	gate := t.cfg.GateSigma * t.cfg.GateSigma
	var pool []candidate
	for i := range working {
		if working[i].State == StateDeleted {
			continue
		}
		for j, obs := range observations {
			d := mahalanobisSquared(&working[i], obs, t.cfg.MeasurementNoiseRange, t.cfg.MeasurementNoiseVelocity)
			if d <= gate {
				pool = append(pool, candidate{trackIdx: i, obsIdx: j, dist: d})
			}
		}
	}
	sort.Slice(pool, func(a, b int) bool {
		if pool[a].dist != pool[b].dist {
			return pool[a].dist < pool[b].dist
		}
		if pool[a].trackIdx != pool[b].trackIdx {
			return pool[a].trackIdx < pool[b].trackIdx
		}
		return pool[a].obsIdx < pool[b].obsIdx
	})

	assignedTrack := make([]bool, len(working))
	assignedObs := make([]bool, len(observations))
	assignments := map[int64]int{}
	for _, c := range pool {
		if assignedTrack[c.trackIdx] || assignedObs[c.obsIdx] {
			continue
		}
		assignedTrack[c.trackIdx] = true
		assignedObs[c.obsIdx] = true
		assignments[working[c.trackIdx].ID] = c.obsIdx
	}

	// Hit / miss lifecycle transitions.
	for i := range working {
		tr := &working[i]
		if tr.State == StateDeleted {
			continue
		}

		obsIdx, hit := assignments[tr.ID]
		if hit {
			if !correct(tr, observations[obsIdx], t.cfg.MeasurementNoiseRange, t.cfg.MeasurementNoiseVelocity) || !isFiniteState(tr) {
				radar.Diagf("track %d correction rejected, treating as miss", tr.ID)
				delete(assignments, tr.ID)
				t.applyMiss(tr)
				continue
			}
			tr.Hits++
			tr.TotalHits++
			tr.Misses = 0
			tr.CoastCycles = 0
			tr.LastUnixNanos = nowNanos
			switch tr.State {
			case StateProvisional:
				if tr.Hits >= t.cfg.HitsToConfirm {
					radar.Tracef("track %d confirmed after %d hits", tr.ID, tr.Hits)
					tr.State = StateConfirmed
				}
			case StateCoasting:
				radar.Tracef("track %d reacquired, coasting -> confirmed", tr.ID)
				tr.State = StateConfirmed
			}
			continue
		}
		t.applyMiss(tr)
	}

	// Spawn provisional tracks from unclaimed observations.
	var spawned []Track
	for j, obs := range observations {
		if assignedObs[j] {
			continue
		}
		tr := Track{
			ID:             t.nextID,
			State:          StateProvisional,
			Range:          obs.RangeMeters,
			Velocity:       obs.VelocityMps,
			Hits:           1,
			TotalHits:      1,
			FirstUnixNanos: nowNanos,
			LastUnixNanos:  nowNanos,
		}
		tr.P[0*3+0] = t.cfg.MeasurementNoiseRange
		tr.P[1*3+1] = t.cfg.MeasurementNoiseVelocity
		tr.P[2*3+2] = initialAccelVariance
		t.nextID++
		spawned = append(spawned, tr)
	}

	// Capacity: evict the least-established tracks first.
	survivors := working[:0]
	for _, tr := range working {
		if tr.State != StateDeleted {
			survivors = append(survivors, tr)
		}
	}
	all := append(survivors, spawned...)
	if over := len(all) - t.cfg.MaxTracks; over > 0 && t.cfg.MaxTracks > 0 {
		order := make([]int, len(all))
		for i := range order {
			order[i] = i
		}
		// Fewest lifetime hits go first; among equals the newest track goes.
		sort.Slice(order, func(a, b int) bool {
			ta, tb := all[order[a]], all[order[b]]
			if ta.TotalHits != tb.TotalHits {
				return ta.TotalHits < tb.TotalHits
			}
			return ta.ID > tb.ID
		})
		for _, idx := range order[:over] {
			radar.Diagf("evicting track %d (total hits %d) at capacity %d", all[idx].ID, all[idx].TotalHits, t.cfg.MaxTracks)
			all[idx].State = StateDeleted
		}
	}

	// Refresh confidence on everything that survives.
	for i := range all {
		if all[i].State != StateDeleted {
			all[i].Confidence = trackConfidence(&all[i])
		}
	}

	// Commit. Removed IDs leave the arena; survivors overwrite in place;
	// spawns take free slots.
	kept := map[int64]bool{}
	for i := range all {
		if all[i].State == StateDeleted {
			continue
		}
		kept[all[i].ID] = true
		if existing := t.tracks.get(all[i].ID); existing != nil {
			*existing = all[i]
		} else {
			t.tracks.insert(all[i])
		}
	}
	for _, id := range ids {
		if !kept[id] {
			t.tracks.remove(id)
		}
	}

	t.lastUpdateNanos = nowNanos
	t.lastAssignments = assignments
	radar.Tracef("cycle complete: %d observations, %d associated, %d tracks live",
		len(observations), len(assignments), t.tracks.size())
}

// applyMiss advances a track's miss bookkeeping and lifecycle.
func (t *Tracker) applyMiss(tr *Track) {
	tr.Hits = 0
	tr.Misses++
	switch tr.State {
	case StateProvisional:
		if tr.Misses >= t.cfg.MaxMissesProvisional {
			radar.Tracef("track %d deleted: provisional with %d misses", tr.ID, tr.Misses)
			tr.State = StateDeleted
		}
	case StateConfirmed:
		radar.Tracef("track %d coasting after miss", tr.ID)
		tr.State = StateCoasting
		tr.CoastCycles = 1
	case StateCoasting:
		tr.CoastCycles++
		if tr.CoastCycles > t.cfg.MaxCoastCycles {
			radar.Tracef("track %d deleted: coasted %d cycles", tr.ID, tr.CoastCycles)
			tr.State = StateDeleted
		}
	}
}

// trackConfidence scores a track in [0.1, 0.99] from its lifecycle state
// and evidence history.
func trackConfidence(tr *Track) float64 {
	var base float64
	switch tr.State {
	case StateConfirmed:
		base = 0.6
	case StateCoasting:
		base = 0.45
	default:
		base = 0.25
	}
	hits := math.Min(float64(tr.TotalHits), 20)
	c := base + 0.02*hits - 0.05*float64(tr.Misses)
	if c < 0.1 {
		c = 0.1
	}
	if c > 0.99 {
		c = 0.99
	}
	return c
}

// ActiveTracks returns deep copies of all Confirmed and Coasting tracks in
// ascending ID order.
func (t *Tracker) ActiveTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Track
	for _, id := range t.tracks.ids() {
		tr := t.tracks.get(id)
		if tr.State == StateConfirmed || tr.State == StateCoasting {
			out = append(out, *tr)
		}
	}
	return out
}

// AllTracks returns deep copies of every live track, provisional included,
// in ascending ID order.
func (t *Tracker) AllTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Track, 0, t.tracks.size())
	for _, id := range t.tracks.ids() {
		out = append(out, *t.tracks.get(id))
	}
	return out
}

// TrackCount returns the number of live tracks.
func (t *Tracker) TrackCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracks.size()
}

// LastAssignments returns a copy of the track-to-observation index map
// from the most recent Update.
func (t *Tracker) LastAssignments() map[int64]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[int64]int, len(t.lastAssignments))
	for id, idx := range t.lastAssignments {
		out[id] = idx
	}
	return out
}

// Reset drops every track and restarts timing. Track IDs keep advancing;
// a reset never causes ID reuse within a process.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks.reset()
	t.lastUpdateNanos = 0
	t.lastAssignments = map[int64]int{}
	radar.Opsf("tracker reset")
}
