package l1spectral

import "fmt"

// SampleMatrix is one cycle's worth of complex baseband samples.
// Rows are pulse index (slow time), columns are intra-pulse sample index
// (fast time). Immutable once captured; owned by the cycle that produced it.
type SampleMatrix struct {
	Pulses          int
	SamplesPerPulse int
	IQ              []complex128 // row-major, len = Pulses*SamplesPerPulse
}

// NewSampleMatrix wraps raw IQ samples into the configured pulse geometry.
// A short sample slice is zero-padded to a whole number of pulses so pulse
// boundaries stay aligned; an oversized slice is an error because silently
// dropping samples would misalign every subsequent pulse.
func NewSampleMatrix(iq []complex128, pulses, samplesPerPulse int) (*SampleMatrix, error) {
	if pulses <= 0 || samplesPerPulse <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", pulses, samplesPerPulse)
	}
	want := pulses * samplesPerPulse
	if len(iq) > want {
		return nil, fmt.Errorf("sample count %d exceeds configured geometry %dx%d", len(iq), pulses, samplesPerPulse)
	}
	m := &SampleMatrix{
		Pulses:          pulses,
		SamplesPerPulse: samplesPerPulse,
		IQ:              make([]complex128, want),
	}
	copy(m.IQ, iq)
	return m, nil
}

// At returns the sample for pulse p, fast-time index s.
func (m *SampleMatrix) At(p, s int) complex128 {
	return m.IQ[p*m.SamplesPerPulse+s]
}

// Set writes the sample for pulse p, fast-time index s.
func (m *SampleMatrix) Set(p, s int, v complex128) {
	m.IQ[p*m.SamplesPerPulse+s] = v
}

// Surface is a range-Doppler power map. Rows are Doppler bins with zero
// Doppler at row DopplerBins/2 (centre-shifted), columns are range bins.
// Power holds linear power after non-coherent integration; PowerDB holds
// its floored decibel transform. Both are always finite.
type Surface struct {
	DopplerBins int
	RangeBins   int
	Power       []float64 // row-major linear power
	PowerDB     []float64 // row-major decibels
	FloorDB     float64   // decibel value of the linear power floor
}

// At returns the linear power at (Doppler bin d, range bin r).
func (s *Surface) At(d, r int) float64 {
	return s.Power[d*s.RangeBins+r]
}

// AtDB returns the decibel power at (Doppler bin d, range bin r).
func (s *Surface) AtDB(d, r int) float64 {
	return s.PowerDB[d*s.RangeBins+r]
}
