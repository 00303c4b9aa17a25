package pipeline

import (
	"fmt"

	"github.com/kestrel-data/pulse.report/internal/radar/l4cognition"
)

// AcquisitionParams is the caller-held acquisition state the adaptation
// loop steers. The pipeline never stores these; the caller threads them
// through cycles and applies each command explicitly.
type AcquisitionParams struct {
	BandwidthHz    float64 `json:"bandwidth_hz"`
	TransmitPowerW float64 `json:"transmit_power_w"`
	DwellTimeS     float64 `json:"dwell_time_s"`
}

// DefaultAcquisitionParams returns a plausible starting point for the
// simulation driver.
func DefaultAcquisitionParams() AcquisitionParams {
	return AcquisitionParams{
		BandwidthHz:    50e6,
		TransmitPowerW: 10,
		DwellTimeS:     0.05,
	}
}

// Validate rejects non-physical parameter sets.
func (a AcquisitionParams) Validate() error {
	if a.BandwidthHz <= 0 {
		return fmt.Errorf("bandwidth must be positive, got %g Hz", a.BandwidthHz)
	}
	if a.TransmitPowerW <= 0 {
		return fmt.Errorf("transmit power must be positive, got %g W", a.TransmitPowerW)
	}
	if a.DwellTimeS <= 0 {
		return fmt.Errorf("dwell time must be positive, got %g s", a.DwellTimeS)
	}
	return nil
}

// Apply scales the parameters by an adaptation command and validates the
// result. On failure it returns the receiver unchanged along with the
// error, so the caller keeps operating on the last good set.
func (a AcquisitionParams) Apply(cmd l4cognition.AdaptationCommand) (AcquisitionParams, error) {
	next := AcquisitionParams{
		BandwidthHz:    a.BandwidthHz * cmd.BandwidthScale,
		TransmitPowerW: a.TransmitPowerW * cmd.PowerScale,
		DwellTimeS:     a.DwellTimeS * cmd.DwellScale,
	}
	if err := next.Validate(); err != nil {
		return a, fmt.Errorf("rejecting adaptation command: %w", err)
	}
	return next, nil
}
