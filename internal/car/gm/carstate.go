package gm

import (
	"math"

	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/units"
)

// carState decodes GM bus signals into vehicle state and keeps the
// cross-cycle values the controller reads back.
type carState struct {
	car.StateBase

	cal *calibration

	cruiseButtons      int
	prevCruiseButtons  int
	distanceButton     int
	prevDistanceButton int
	buttonsCounter     int
	lkaButton          int
	prevLKAButton      int
	lkasEnabled        bool

	movingBackward  bool
	lkasStatus      int
	singlePedalMode bool

	// Loopback of our own ASCMLKASteeringCmd, used to space transmits.
	loopbackLKAUpdated bool
	loopbackLKATsNanos uint64
	ptLKACounter       int
	camLKACounter      int
}

func newCarState(params car.CarParams, cal *calibration) *carState {
	return &carState{StateBase: car.NewStateBase(params), cal: cal}
}

func (cs *carState) flag(f uint32) bool { return cs.Params.HasFlag(f) }

// hasCamera reports whether camera bus messages are parsed.
func (cs *carState) hasCamera() bool {
	return cs.Params.NetworkLocation == car.NetworkFwdCamera && !cs.flag(FlagNoCamera)
}

// bodyBus is where doors, belts, blinkers and steering wheel buttons are
// read. SDGM cars route them through the camera.
func (cs *carState) bodyBus() uint8 {
	if cs.flag(FlagSDGM) {
		return BusCamera
	}
	return BusPowertrain
}

func (cs *carState) update(ps car.Parsers) (car.CarState, car.ExtendedState) {
	pt, cam, lb := ps[BusPowertrain], ps[BusCamera], ps[BusLoopback]
	body := ps[cs.bodyBus()]
	var ret car.CarState
	var ext car.ExtendedState

	cs.prevCruiseButtons = cs.cruiseButtons
	cs.prevDistanceButton = cs.distanceButton
	cs.cruiseButtons = int(body.Value("ASCMSteeringButton", "ACCButtons"))
	cs.distanceButton = int(body.Value("ASCMSteeringButton", "DistanceButton"))
	cs.buttonsCounter = int(body.Value("ASCMSteeringButton", "RollingCounter"))

	cs.movingBackward = pt.Value("EBCMWheelSpdRear", "RLWheelDir") == wheelDirBackward ||
		pt.Value("EBCMWheelSpdRear", "RRWheelDir") == wheelDirBackward

	cs.loopbackLKAUpdated = len(lb.All("ASCMLKASteeringCmd", "RollingCounter")) > 0
	if cs.loopbackLKAUpdated {
		cs.loopbackLKATsNanos = lb.TimestampNanos("ASCMLKASteeringCmd")
	}
	if cs.hasCamera() {
		cs.ptLKACounter = int(pt.Value("ASCMLKASteeringCmd", "RollingCounter"))
		cs.camLKACounter = int(cam.Value("ASCMLKASteeringCmd", "RollingCounter"))
	}

	ret.WheelSpeeds = cs.WheelSpeeds(
		pt.Value("EBCMWheelSpdFront", "FLWheelSpd"),
		pt.Value("EBCMWheelSpdFront", "FRWheelSpd"),
		pt.Value("EBCMWheelSpdRear", "RLWheelSpd"),
		pt.Value("EBCMWheelSpdRear", "RRWheelSpd"),
		units.KPHToMS,
	)
	ret.VEgoRaw = ret.WheelSpeeds.Mean()
	ret.VEgo, ret.AEgo = cs.UpdateSpeed(ret.VEgoRaw)
	ret.VEgoCluster = ret.VEgo
	ret.Standstill = ret.WheelSpeeds.RearStandstill(cs.cal.standstillThreshold())

	ret.GearShifter = cs.gear(pt)

	if cs.flag(FlagNoAcceleratorPosMsg) {
		ret.Brake = pt.Value("EBCMBrakePedalPosition", "BrakePedalPosition") / 0xd0
	} else {
		ret.Brake = pt.Value("ECMAcceleratorPos", "BrakePedalPos")
	}
	if cs.Params.NetworkLocation == car.NetworkFwdCamera {
		ret.BrakePressed = pt.Value("ECMEngineStatus", "BrakePressed") != 0
	} else {
		// Loose brake push rods make the ECM flag the pedal intermittently.
		ret.BrakePressed = ret.Brake >= 8
	}

	if cs.Params.TransmissionType == car.TransmissionDirect {
		ret.RegenBraking = pt.Value("EBCMRegenPaddle", "RegenPaddle") != 0
		cs.singlePedalMode = ret.GearShifter == car.GearLow ||
			pt.Value("EVDriveMode", "SinglePedalModeActive") == 1 ||
			(ret.RegenBraking && ret.GearShifter == car.GearManumatic)
	}

	if cs.Params.EnableGasInterceptor {
		ret.Gas = (pt.Value("GAS_SENSOR", "INTERCEPTOR_GAS") + pt.Value("GAS_SENSOR", "INTERCEPTOR_GAS2")) / 2
		threshold := 4.0
		if cs.flag(FlagCameraACC) {
			threshold = 10
		}
		ret.GasPressed = ret.Gas > threshold
	} else {
		ret.Gas = pt.Value("AcceleratorPedal2", "AcceleratorPedal2") / 254
		ret.GasPressed = ret.Gas > 1e-5
	}

	ret.SteeringAngleDeg = pt.Value("PSCMSteeringAngle", "SteeringWheelAngle")
	ret.SteeringRateDeg = pt.Value("PSCMSteeringAngle", "SteeringWheelRate")
	ret.SteeringTorque = pt.Value("PSCMStatus", "LKADriverAppldTrq")
	ret.SteeringTorqueEps = pt.Value("PSCMStatus", "LKATorqueDelivered")
	ret.SteeringPressed = math.Abs(ret.SteeringTorque) > cs.cal.Steer.DriverThreshold

	// 0 inactive, 1 active, 2 temporarily limited, 3 failed
	cs.lkasStatus = int(pt.Value("PSCMStatus", "LKATorqueDeliveredStatus"))
	ret.SteerFaultTemporary = cs.lkasStatus == 2
	ret.SteerFaultPermanent = cs.lkasStatus == 3

	// doors report 1 when open, belts 1 when latched
	ret.DoorOpen = body.Value("BCMDoorBeltStatus", "FrontLeftDoor") == 1 ||
		body.Value("BCMDoorBeltStatus", "FrontRightDoor") == 1 ||
		body.Value("BCMDoorBeltStatus", "RearLeftDoor") == 1 ||
		body.Value("BCMDoorBeltStatus", "RearRightDoor") == 1
	ret.SeatbeltUnlatched = body.Value("BCMDoorBeltStatus", "LeftSeatBelt") == 0
	ret.LeftBlinker = body.Value("BCMTurnSignals", "TurnSignals") == 1
	ret.RightBlinker = body.Value("BCMTurnSignals", "TurnSignals") == 2
	ret.ParkingBrake = body.Value("BCMGeneralPlatformStatus", "ParkBrakeSwActive") == 1

	cruiseState := int(pt.Value("AcceleratorPedal2", "CruiseState"))
	ret.CruiseState.Available = pt.Value("ECMEngineStatus", "CruiseMainOn") != 0
	ret.EspDisabled = pt.Value("ESPStatus", "TractionControlOn") != 1
	ret.AccFaulted = cruiseState == AccStateFaulted ||
		pt.Value("EBCMFrictionBrakeStatus", "FrictionBrakeUnavailable") == 1
	ret.CruiseState.Enabled = cruiseState != AccStateOff
	ret.CruiseState.Standstill = cruiseState == AccStateStandstill

	if cs.hasCamera() {
		if !cs.flag(FlagCCOnly) {
			ret.CruiseState.Speed = cam.Value("ASCMActiveCruiseControlStatus", "ACCSpeedSetpoint") * units.KPHToMS
			if cs.Params.PCMCruise {
				accState := int(cam.Value("ASCMActiveCruiseControlStatus", "ACCCruiseState"))
				ret.CruiseState.NonAdaptive = accState != 2 && accState != 3
			}
		}
		if !cs.flag(FlagSDGM) {
			ret.StockAeb = cam.Value("AEBCmd", "AEBCmdActive") != 0
		}
	}
	if cs.flag(FlagCCOnly) {
		ret.AccFaulted = false
		ret.CruiseState.Speed = pt.Value("ECMCruiseControl", "CruiseSetSpeed") * units.KPHToMS
		ret.CruiseState.Enabled = pt.Value("ECMCruiseControl", "CruiseActive") != 0
	}

	if cs.Params.EnableBSM {
		ret.LeftBlindspot = body.Value("BCMBlindSpotMonitor", "LeftBSM") == 1
		ret.RightBlindspot = body.Value("BCMBlindSpotMonitor", "RightBSM") == 1
	}

	cs.prevLKAButton = cs.lkaButton
	cs.lkaButton = int(body.Value("ASCMSteeringButton", "LKAButton"))
	if cs.lkaButton == 1 && cs.prevLKAButton == 0 {
		cs.lkasEnabled = !cs.lkasEnabled
	}

	ext.SportGear = pt.Value("SportMode", "SportMode") == 1
	ext.LKASEnabled = cs.lkasEnabled
	ext.DistanceButton = cs.distanceButton
	ext.CruiseButtons = cs.cruiseButtons
	ext.SinglePedalMode = cs.singlePedalMode
	return ret, ext
}

func (cs *carState) gear(pt *candb.Parser) car.GearShifter {
	if pt.Value("ECMPRDNL2", "ManualMode") == 1 {
		return car.ParseGear("T")
	}
	labels := globalA.ValueTable("ECMPRDNL2", "PRNDL2")
	return car.ParseGear(labels[int(pt.Value("ECMPRDNL2", "PRNDL2"))])
}

// buttonEvents builds this cycle's cruise and distance button events. The
// transition out of the power-on INIT value is not a press.
func (cs *carState) buttonEvents() []car.ButtonEvent {
	if cs.cruiseButtons == CruiseButtonsUnpress && cs.prevCruiseButtons == CruiseButtonsInit {
		return nil
	}
	out := car.ButtonEvents(cs.cruiseButtons, cs.prevCruiseButtons, cruiseButtonEvents, CruiseButtonsUnpress)
	return append(out, car.ButtonEvents(cs.distanceButton, cs.prevDistanceButton, distanceButtonEvents, 0)...)
}

func (cs *carState) lkasButtonEvents() []car.ButtonEvent {
	return car.ButtonEvents(cs.lkaButton, cs.prevLKAButton, lkasButtonEvents, 0)
}

// parserMessages lists the messages read from each bus for params.
func parserMessages(params car.CarParams) map[uint8][]candb.MessageSpec {
	has := params.HasFlag
	pt := []candb.MessageSpec{
		{Name: "PSCMStatus", FrequencyHz: 10},
		{Name: "ESPStatus", FrequencyHz: 10},
		{Name: "EBCMWheelSpdFront", FrequencyHz: 20},
		{Name: "EBCMWheelSpdRear", FrequencyHz: 20},
		{Name: "EBCMFrictionBrakeStatus", FrequencyHz: 20},
		{Name: "PSCMSteeringAngle", FrequencyHz: 100},
		{Name: "SportMode"},
	}
	if has(FlagSDGM) {
		pt = append(pt,
			candb.MessageSpec{Name: "ECMPRDNL2", FrequencyHz: 40},
			candb.MessageSpec{Name: "AcceleratorPedal2", FrequencyHz: 40},
			candb.MessageSpec{Name: "ECMEngineStatus", FrequencyHz: 80},
		)
	} else {
		pt = append(pt,
			candb.MessageSpec{Name: "ECMPRDNL2", FrequencyHz: 10},
			candb.MessageSpec{Name: "AcceleratorPedal2", FrequencyHz: 33},
			candb.MessageSpec{Name: "ECMEngineStatus", FrequencyHz: 100},
			candb.MessageSpec{Name: "BCMTurnSignals", FrequencyHz: 1},
			candb.MessageSpec{Name: "BCMDoorBeltStatus", FrequencyHz: 10},
			candb.MessageSpec{Name: "BCMGeneralPlatformStatus", FrequencyHz: 10},
			candb.MessageSpec{Name: "ASCMSteeringButton", FrequencyHz: 33},
		)
		if params.EnableBSM {
			pt = append(pt, candb.MessageSpec{Name: "BCMBlindSpotMonitor", FrequencyHz: 10})
		}
	}
	// Our own steering command shows up on powertrain once the relay is
	// closed; the rate is checked on the loopback instead.
	if params.NetworkLocation == car.NetworkFwdCamera {
		pt = append(pt, candb.MessageSpec{Name: "ASCMLKASteeringCmd"})
	}
	if has(FlagNoAcceleratorPosMsg) {
		pt = append(pt, candb.MessageSpec{Name: "EBCMBrakePedalPosition", FrequencyHz: 100})
	} else {
		pt = append(pt, candb.MessageSpec{Name: "ECMAcceleratorPos", FrequencyHz: 80})
	}
	if params.TransmissionType == car.TransmissionDirect {
		pt = append(pt,
			candb.MessageSpec{Name: "EBCMRegenPaddle", FrequencyHz: 50},
			candb.MessageSpec{Name: "EVDriveMode"},
		)
	}
	if has(FlagCCOnly) {
		pt = append(pt, candb.MessageSpec{Name: "ECMCruiseControl", FrequencyHz: 10})
	}
	if params.EnableGasInterceptor {
		pt = append(pt, candb.MessageSpec{Name: "GAS_SENSOR", FrequencyHz: 50})
	}

	var cam []candb.MessageSpec
	if params.NetworkLocation == car.NetworkFwdCamera && !has(FlagNoCamera) {
		cam = append(cam, candb.MessageSpec{Name: "ASCMLKASteeringCmd", FrequencyHz: 10})
		if has(FlagSDGM) {
			cam = append(cam,
				candb.MessageSpec{Name: "BCMTurnSignals", FrequencyHz: 1},
				candb.MessageSpec{Name: "BCMDoorBeltStatus", FrequencyHz: 10},
				candb.MessageSpec{Name: "BCMGeneralPlatformStatus", FrequencyHz: 10},
				candb.MessageSpec{Name: "ASCMSteeringButton", FrequencyHz: 33},
			)
			if params.EnableBSM {
				cam = append(cam, candb.MessageSpec{Name: "BCMBlindSpotMonitor", FrequencyHz: 10})
			}
		} else {
			cam = append(cam, candb.MessageSpec{Name: "AEBCmd", FrequencyHz: 10})
		}
		if !has(FlagCCOnly) {
			cam = append(cam, candb.MessageSpec{Name: "ASCMActiveCruiseControlStatus", FrequencyHz: 25})
		}
	}

	loopback := []candb.MessageSpec{{Name: "ASCMLKASteeringCmd"}}

	return map[uint8][]candb.MessageSpec{
		BusPowertrain: pt,
		BusCamera:     cam,
		BusLoopback:   loopback,
	}
}
