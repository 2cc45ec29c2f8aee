package car

import "math"

// SteerLimits bound torque steering commands. Units are the platform's
// raw command units; driver torque is in the units of CarState.SteeringTorque.
type SteerLimits struct {
	SteerMax         float64 `toml:"steer_max"`
	DeltaUp          float64 `toml:"delta_up"`
	DeltaDown        float64 `toml:"delta_down"`
	DriverAllowance  float64 `toml:"driver_allowance"`
	DriverMultiplier float64 `toml:"driver_multiplier"`
	DriverFactor     float64 `toml:"driver_factor"`
}

// ApplyDriverSteerTorqueLimits clamps a torque request so it never fights
// the driver and rate-limits growth in magnitude. It returns the rounded
// command to encode.
func ApplyDriverSteerTorqueLimits(apply, last, driverTorque float64, l SteerLimits) int {
	driverMax := l.SteerMax + (l.DriverAllowance+driverTorque*l.DriverFactor)*l.DriverMultiplier
	driverMin := -l.SteerMax + (-l.DriverAllowance+driverTorque*l.DriverFactor)*l.DriverMultiplier
	maxAllowed := math.Max(math.Min(l.SteerMax, driverMax), 0)
	minAllowed := math.Min(math.Max(-l.SteerMax, driverMin), 0)
	apply = Clip(apply, minAllowed, maxAllowed)

	if last > 0 {
		apply = Clip(apply, math.Max(last-l.DeltaDown, -l.DeltaUp), last+l.DeltaUp)
	} else {
		apply = Clip(apply, last-l.DeltaUp, math.Min(last+l.DeltaDown, l.DeltaUp))
	}
	return int(math.Round(apply))
}

// Clip limits v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Interp linearly interpolates x over the breakpoints xp (ascending) and
// values fp, holding the end values outside the range. With repeated
// breakpoints the last one at or below x wins.
func Interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if n == 0 || n != len(fp) {
		return 0
	}
	if x < xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	j := 0
	for j+1 < n-1 && xp[j+1] <= x {
		j++
	}
	t := (x - xp[j]) / (xp[j+1] - xp[j])
	return fp[j] + t*(fp[j+1]-fp[j])
}
