// Package units provides shared conversions between linear power, decibels,
// and surface bin coordinates, plus speed unit helpers for reporting.
package units

import "math"

// Unit constants for speed reporting.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid speed unit values.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Track kinematics are always held internally in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694
	case KMPH, KPH:
		return speedMPS * 3.6
	case MPS:
		return speedMPS
	default:
		return speedMPS
	}
}

// ToDecibels converts linear power to decibels. The argument is clamped to
// floor first so the result is always finite, even for zero power.
func ToDecibels(power, floor float64) float64 {
	if power < floor {
		power = floor
	}
	return 10 * math.Log10(power)
}

// FromDecibels converts a decibel value back to linear power.
func FromDecibels(db float64) float64 {
	return math.Pow(10, db/10)
}

// RangeFromBin converts a range bin index to metres given the bin width.
func RangeFromBin(bin int, binMeters float64) float64 {
	return float64(bin) * binMeters
}

// VelocityFromBin converts a centre-shifted Doppler bin index to radial
// velocity in m/s. The surface places zero Doppler at row dopplerBins/2;
// rows above it are positive (opening) velocities.
func VelocityFromBin(bin, dopplerBins int, binMps float64) float64 {
	return float64(bin-dopplerBins/2) * binMps
}
