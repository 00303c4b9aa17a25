// radarsim runs the processing core closed-loop on synthetic baseband
// data: seeded noise plus injected point targets, one RunCycle per
// simulated dwell, with each cycle's adaptation command applied to the
// acquisition parameters before the next cycle begins.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-data/pulse.report/internal/config"
	"github.com/kestrel-data/pulse.report/internal/radar"
	"github.com/kestrel-data/pulse.report/internal/radar/l1spectral"
	"github.com/kestrel-data/pulse.report/internal/radar/pipeline"
	"github.com/kestrel-data/pulse.report/internal/units"
)

var (
	configPath = flag.String("config", "", "Path to a tuning JSON file (defaults to built-in values)")
	cycles     = flag.Int("cycles", 50, "Number of processing cycles to run")
	seed       = flag.Int64("seed", 1, "Noise generator seed")
	targetSpec = flag.String("targets", "60:-10:1.0", "Injected targets as range_m:velocity_mps:amplitude, comma separated")
	noiseAmp   = flag.Float64("noise", 0.05, "Per-sample noise amplitude")
	cycleDt    = flag.Duration("dt", 100*time.Millisecond, "Simulated interval between cycles")
	speedUnits = flag.String("units", units.MPS, "Speed units for reported tracks (mps, mph, kmph, kph)")
	trace      = flag.Bool("trace", false, "Enable per-cycle trace logging")
)

// reportTrack is a TrackSnapshot with its speed converted to the units the
// operator asked for. Internal kinematics stay in m/s throughout.
type reportTrack struct {
	ID         int64   `json:"id"`
	RangeM     float64 `json:"range_m"`
	Speed      float64 `json:"speed"`
	SpeedUnits string  `json:"speed_units"`
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"`
}

func reportTracks(snaps []pipeline.TrackSnapshot, unit string) []reportTrack {
	out := make([]reportTrack, len(snaps))
	for i, tr := range snaps {
		out[i] = reportTrack{
			ID:         tr.ID,
			RangeM:     tr.RangeMeters,
			Speed:      units.ConvertSpeed(tr.VelocityMps, unit),
			SpeedUnits: unit,
			State:      tr.State,
			Confidence: tr.Confidence,
		}
	}
	return out
}

// simTarget is one injected point scatterer. Range advances by velocity
// each simulated cycle; amplitude scales with the transmit power the
// adaptation loop settles on, which is what closes the loop.
type simTarget struct {
	rangeM    float64
	velocity  float64
	amplitude float64
}

func parseTargets(spec string) ([]simTarget, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var out []simTarget
	for _, part := range strings.Split(spec, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("target %q: want range_m:velocity_mps:amplitude", part)
		}
		var vals [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("target %q: %w", part, err)
			}
			vals[i] = v
		}
		out = append(out, simTarget{rangeM: vals[0], velocity: vals[1], amplitude: vals[2]})
	}
	return out, nil
}

// synthesise builds one cycle's sample matrix: complex Gaussian noise plus
// a complex tone per target, placed so the 2D FFT lands its energy at the
// target's range and Doppler cell.
func synthesise(cfg *config.TuningConfig, rng *rand.Rand, targets []simTarget, powerScale float64) (*l1spectral.SampleMatrix, error) {
	pulses := cfg.GetPulses()
	samples := cfg.GetSamplesPerPulse()
	nr := cfg.GetRangeFFTSize()
	nd := cfg.GetDopplerFFTSize()

	iq := make([]complex128, pulses*samples)
	nAmp := *noiseAmp
	for i := range iq {
		iq[i] = complex(rng.NormFloat64()*nAmp, rng.NormFloat64()*nAmp)
	}
	for _, tgt := range targets {
		rangeBin := tgt.rangeM / cfg.GetRangeBinMeters()
		dopplerCycles := tgt.velocity / cfg.GetVelocityBinMps()
		amp := tgt.amplitude * math.Sqrt(powerScale)
		for p := 0; p < pulses; p++ {
			for s := 0; s < samples; s++ {
				phase := 2 * math.Pi * (rangeBin*float64(s)/float64(nr) + dopplerCycles*float64(p)/float64(nd))
				iq[p*samples+s] += complex(amp*math.Cos(phase), amp*math.Sin(phase))
			}
		}
	}
	return l1spectral.NewSampleMatrix(iq, pulses, samples)
}

func main() {
	flag.Parse()

	var traceWriter io.Writer
	if *trace {
		traceWriter = os.Stderr
	}
	radar.SetLogWriters(radar.LogWriters{Ops: os.Stderr, Diag: os.Stderr, Trace: traceWriter})
	pipeline.SetLogWriters(os.Stderr, os.Stderr, traceWriter)

	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid speed units %q (valid: %v)", *speedUnits, units.ValidUnits)
	}

	cfg := config.MustLoadDefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	targets, err := parseTargets(*targetSpec)
	if err != nil {
		log.Fatalf("failed to parse targets: %v", err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	params := pipeline.DefaultAcquisitionParams()
	basePower := params.TransmitPowerW
	now := time.Now()

	var last *pipeline.CycleResult
	for i := 0; i < *cycles; i++ {
		// Echo strength follows the power the loop has steered to.
		matrix, err := synthesise(cfg, rng, targets, params.TransmitPowerW/basePower)
		if err != nil {
			log.Fatalf("cycle %d: failed to synthesise samples: %v", i+1, err)
		}

		last, err = p.RunCycle(matrix, nil, now)
		if err != nil {
			log.Fatalf("cycle %d failed: %v", i+1, err)
		}

		// The command steers the next dwell, never the one that produced it.
		next, err := params.Apply(last.Command)
		if err != nil {
			log.Printf("cycle %d: keeping previous acquisition params: %v", i+1, err)
		} else {
			params = next
		}

		for t := range targets {
			targets[t].rangeM += targets[t].velocity * cycleDt.Seconds()
		}
		now = now.Add(*cycleDt)
	}

	if last == nil {
		log.Fatal("no cycles were run")
	}

	out := struct {
		Summary pipeline.SceneSummary      `json:"summary"`
		Tracks  []reportTrack              `json:"tracks"`
		Params  pipeline.AcquisitionParams `json:"acquisition_params"`
		Reason  string                     `json:"last_reason"`
	}{
		Summary: last.Summary,
		Tracks:  reportTracks(last.Tracks, *speedUnits),
		Params:  params,
		Reason:  last.Command.Reason,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("failed to encode summary: %v", err)
	}
}
