// Package units provides the speed and angle conversion factors shared by
// the platform decoders. Canonical state is always in SI units (m/s, m/s²);
// bus signals arrive in whatever unit the manufacturer chose.
package units

import "math"

// Speed conversions.
const (
	MPHToKPH = 1.609344
	KPHToMPH = 1. / MPHToKPH
	MSToKPH  = 3.6
	KPHToMS  = 1. / MSToKPH
	MSToMPH  = MSToKPH * KPHToMPH
	MPHToMS  = MPHToKPH * KPHToMS
	MSToKnot = 1.9438
	KnotToMS = 1. / MSToKnot
)

// Angle conversions.
const (
	DegToRad = math.Pi / 180.
	RadToDeg = 1. / DegToRad
)

// Unit names accepted by ConvertSpeed.
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units return the input unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * MSToMPH
	case KPH:
		return speedMPS * MSToKPH
	default:
		return speedMPS
	}
}
