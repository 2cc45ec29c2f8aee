package gm

import (
	"math"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/monitoring"
)

// minButtonInterval is the spacing, in seconds, of spoofed cancel presses.
const minButtonInterval = 0.04

// controlParams are the longitudinal lookups resolved for one platform.
type controlParams struct {
	steer         steerCalibration
	gasLookupBP   []float64
	gasLookupV    []float64
	brakeLookupBP []float64
	brakeLookupV  []float64
	inactiveRegen float64
	enabledMode   int
}

func newControlParams(params car.CarParams, cal *calibration, plat *platformCalibration) controlParams {
	lc := cal.Longitudinal
	regen := lc.Gateway
	maxRegenAccel := regen.MaxRegenAccel
	if params.HasFlag(FlagCameraACC) || params.HasFlag(FlagSDGM) {
		regen = lc.Camera
		maxRegenAccel = regen.MaxRegenAccel
	} else if params.TransmissionType == car.TransmissionDirect {
		maxRegenAccel = regen.MaxRegenAccelEV
	}
	return controlParams{
		steer:         cal.Steer,
		gasLookupBP:   []float64{maxRegenAccel, 0, lc.AccelMax},
		gasLookupV:    []float64{regen.MaxAccRegen, lc.ZeroGas, regen.MaxGas},
		brakeLookupBP: []float64{lc.AccelMin, maxRegenAccel},
		brakeLookupV:  []float64{lc.MaxBrake, 0},
		inactiveRegen: regen.InactiveRegen,
		enabledMode:   plat.EnabledBrakeMode,
	}
}

// carController encodes control requests into GM command frames. Its
// counters and last-sent values persist across cycles.
type carController struct {
	params car.CarParams
	cp     controlParams
	packer *candb.Packer
	warn   monitoring.OnceLogger

	frame           int
	lastSteerFrame  int
	lastButtonFrame int
	applySteerLast  int
	applyGas        int
	applyBrake      int

	lkaSteeringCmdCounter int
}

func newCarController(params car.CarParams, cp controlParams) *carController {
	return &carController{params: params, cp: cp, packer: candb.NewPacker(globalA)}
}

func (cc *carController) update(c car.CarControl, cs *carState, nowNanos uint64) (car.Actuators, []can.Frame) {
	act := c.Actuators
	var sends []can.Frame
	add := func(f can.Frame, err error) {
		if err != nil {
			cc.warn.Logf(err.Error(), "[gm] encode: %v", err)
			return
		}
		sends = append(sends, f)
	}

	// Active steering runs at 33 Hz, inactive keepalive at 10 Hz.
	steerStep := cc.cp.steer.InactiveStep
	if c.LatActive {
		steerStep = cc.cp.steer.Step
	}
	if cc.params.NetworkLocation == car.NetworkFwdCamera {
		// Until the camera counter and ours line up a handover from the
		// camera faults the EPS, so send at the active rate to resync.
		outOfSync := cc.lkaSteeringCmdCounter%4 != (cs.camLKACounter+1)%4
		if cs.loopbackLKATsNanos == 0 || outOfSync {
			steerStep = cc.cp.steer.Step
		}
	}
	if cs.loopbackLKAUpdated {
		cc.lkaSteeringCmdCounter++
	}

	sinceLastMs := float64(nowNanos-cs.loopbackLKATsNanos) * 1e-6
	if nowNanos < cs.loopbackLKATsNanos {
		sinceLastMs = 0
	}
	if cc.frame-cc.lastSteerFrame >= steerStep && sinceLastMs > cc.cp.steer.MinMsgIntervalMs {
		// Seed our counter from the camera until our own frames loop back.
		if cs.loopbackLKATsNanos == 0 {
			cc.lkaSteeringCmdCounter = cs.ptLKACounter + 1
		}
		applySteer := 0
		if c.LatActive {
			newSteer := math.Round(act.Steer * cc.cp.steer.Limits.SteerMax)
			applySteer = car.ApplyDriverSteerTorqueLimits(newSteer, float64(cc.applySteerLast), cs.Out.SteeringTorque, cc.cp.steer.Limits)
		}
		cc.lastSteerFrame = cc.frame
		cc.applySteerLast = applySteer
		idx := cc.lkaSteeringCmdCounter % 4
		add(createSteeringControl(cc.packer, BusPowertrain, applySteer, idx, c.LatActive))
	}

	if cc.params.OpenpilotLongitudinalControl {
		// gas, regen and friction brake at 25 Hz
		if cc.frame%4 == 0 {
			if !c.LongActive {
				cc.applyGas = int(cc.cp.inactiveRegen)
				cc.applyBrake = 0
			} else {
				cc.applyGas = int(math.Round(car.Interp(act.Accel, cc.cp.gasLookupBP, cc.cp.gasLookupV)))
				cc.applyBrake = int(math.Round(car.Interp(act.Accel, cc.cp.brakeLookupBP, cc.cp.brakeLookupV)))
				if act.Stopping {
					cc.applyGas = int(cc.cp.inactiveRegen)
				}
			}
			idx := (cc.frame / 4) % 4

			atFullStop := c.LongActive && cs.Out.Standstill
			brakeBus := BusChassis
			if cc.params.NetworkLocation == car.NetworkFwdCamera {
				atFullStop = atFullStop && act.Stopping
				brakeBus = BusPowertrain
			}
			add(createGasRegenCommand(cc.packer, BusPowertrain, cc.applyGas, idx, c.Enabled, atFullStop))
			mode := frictionBrakeMode(cc.applyBrake, c.Enabled, atFullStop, cc.cp.enabledMode)
			add(createFrictionBrakeCommand(cc.packer, brakeBus, cc.applyBrake, idx, mode))
		}
	} else if cc.params.NetworkLocation == car.NetworkFwdCamera && c.CruiseControl.Cancel {
		// Stock longitudinal: cancel by spoofing the cruise button.
		if float64(cc.frame-cc.lastButtonFrame)*car.DtCtrl > minButtonInterval {
			cc.lastButtonFrame = cc.frame
			add(createButtons(cc.packer, BusCamera, (cs.buttonsCounter+1)%4, CruiseButtonsCancel))
		}
	}

	out := act
	out.Steer = float64(cc.applySteerLast) / cc.cp.steer.Limits.SteerMax
	out.SteerOutputCAN = float64(cc.applySteerLast)
	out.Gas = float64(cc.applyGas)
	out.Brake = float64(cc.applyBrake)

	cc.frame++
	return out, sends
}
