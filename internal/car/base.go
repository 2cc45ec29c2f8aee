package car

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Steady-state gain of the speed filter at the control rate.
var speedKFGain = [2]float64{0.17406039, 1.65925647}

// speedResetThreshold is the jump in raw speed, in m/s, at which the speed
// filter restarts from the measurement instead of smoothing toward it.
const speedResetThreshold = 2.0

// SpeedFilter is a constant-gain two-state Kalman filter estimating speed
// and acceleration from raw wheel speed.
type SpeedFilter struct {
	x *mat.VecDense
	a *mat.Dense
	c *mat.Dense
	k *mat.VecDense
}

// NewSpeedFilter creates a filter for period dt starting at rest.
func NewSpeedFilter(dt float64) *SpeedFilter {
	return &SpeedFilter{
		x: mat.NewVecDense(2, nil),
		a: mat.NewDense(2, 2, []float64{1, dt, 0, 1}),
		c: mat.NewDense(1, 2, []float64{1, 0}),
		k: mat.NewVecDense(2, []float64{speedKFGain[0], speedKFGain[1]}),
	}
}

// Update feeds one raw speed and returns the filtered speed and
// acceleration.
func (f *SpeedFilter) Update(vRaw float64) (v, a float64) {
	if math.Abs(vRaw-f.x.AtVec(0)) > speedResetThreshold {
		f.x.SetVec(0, vRaw)
		f.x.SetVec(1, 0)
	}
	var pred mat.VecDense
	pred.MulVec(f.a, f.x)

	var measured mat.VecDense
	measured.MulVec(f.c, &pred)
	innovation := vRaw - measured.AtVec(0)

	f.x.AddScaledVec(&pred, innovation, f.k)
	return f.x.AtVec(0), f.x.AtVec(1)
}

// StateBase carries decode state shared by platform carstate code: the
// speed filter, the previous output and the common event tracker.
type StateBase struct {
	Params CarParams
	Out    CarState
	Events EventTracker

	speed *SpeedFilter
}

// NewStateBase creates a StateBase for params.
func NewStateBase(params CarParams) StateBase {
	return StateBase{Params: params, speed: NewSpeedFilter(DtCtrl)}
}

// WheelSpeeds scales raw wheel speeds by unit and the platform's wheel
// speed factor.
func (b *StateBase) WheelSpeeds(fl, fr, rl, rr, unit float64) WheelSpeeds {
	factor := unit
	if b.Params.WheelSpeedFactor > 0 {
		factor *= b.Params.WheelSpeedFactor
	}
	return WheelSpeeds{FL: fl * factor, FR: fr * factor, RL: rl * factor, RR: rr * factor}
}

// UpdateSpeed runs the speed filter on a raw speed.
func (b *StateBase) UpdateSpeed(vRaw float64) (v, a float64) {
	if b.speed == nil {
		b.speed = NewSpeedFilter(DtCtrl)
	}
	return b.speed.Update(vRaw)
}

// Mean returns the average of the four wheel speeds.
func (w WheelSpeeds) Mean() float64 {
	return stat.Mean([]float64{w.FL, w.FR, w.RL, w.RR}, nil)
}

// RearStandstill reports whether both rear wheels are at or below
// threshold.
func (w WheelSpeeds) RearStandstill(threshold float64) bool {
	return w.RL <= threshold && w.RR <= threshold
}

// ParseGear maps a gear label from a signal value table to a GearShifter.
func ParseGear(label string) GearShifter {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "P", "PARK":
		return GearPark
	case "R", "REVERSE":
		return GearReverse
	case "N", "NEUTRAL":
		return GearNeutral
	case "E", "ECO":
		return GearEco
	case "T", "MANUMATIC":
		return GearManumatic
	case "D", "DRIVE":
		return GearDrive
	case "S", "SPORT":
		return GearSport
	case "L", "LOW":
		return GearLow
	case "B", "BRAKE":
		return GearBrake
	default:
		return GearUnknown
	}
}

// ButtonEvents synthesizes events for a button signal that changed from
// prev to cur. A switch between two pressed values yields a release of the
// old button and a press of the new one. Values missing from m map to
// ButtonUnknown.
func ButtonEvents(cur, prev int, m map[int]ButtonType, unpressed int) []ButtonEvent {
	if cur == prev {
		return nil
	}
	var out []ButtonEvent
	for _, e := range [...]struct {
		pressed bool
		btn     int
	}{{false, prev}, {true, cur}} {
		if e.btn == unpressed {
			continue
		}
		t, ok := m[e.btn]
		if !ok {
			t = ButtonUnknown
		}
		out = append(out, ButtonEvent{Type: t, Pressed: e.pressed})
	}
	return out
}
