package subaru

import (
	"math"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/monitoring"
)

// carController encodes torque steering requests into ES_LKAS frames.
// Angle-steered cars are dashcam only and send nothing.
type carController struct {
	params car.CarParams
	steer  steerCalibration
	packer *candb.Packer
	warn   monitoring.OnceLogger

	frame          int
	applySteerLast int
}

func newCarController(params car.CarParams, steer steerCalibration) *carController {
	return &carController{params: params, steer: steer, packer: candb.NewPacker(database(params))}
}

func (cc *carController) update(c car.CarControl, cs *carState) (car.Actuators, []can.Frame) {
	act := c.Actuators
	var sends []can.Frame

	if cc.params.SteerControlType == car.SteerTorque && cc.frame%cc.steer.Step == 0 {
		applySteer := 0
		if c.LatActive {
			newSteer := math.Round(act.Steer * cc.steer.Limits.SteerMax)
			applySteer = car.ApplyDriverSteerTorqueLimits(newSteer, float64(cc.applySteerLast), cs.Out.SteeringTorque, cc.steer.Limits)
		}
		cc.applySteerLast = applySteer
		f, err := createSteeringControl(cc.packer, applySteer, cc.frame/cc.steer.Step, c.LatActive)
		if err != nil {
			cc.warn.Logf(err.Error(), "[subaru] encode: %v", err)
		} else {
			sends = append(sends, f)
		}
	}

	out := act
	out.Steer = float64(cc.applySteerLast) / cc.steer.Limits.SteerMax
	out.SteerOutputCAN = float64(cc.applySteerLast)

	cc.frame++
	return out, sends
}
