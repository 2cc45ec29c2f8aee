package subaru

import (
	"math"

	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/units"
)

// standstillSpeed is the raw speed in m/s below which the car is stopped.
const standstillSpeed = 0.01

// Cruise_State value reported while stock cruise holds the car at a stop.
const cruiseStateStandstill = 3

type carState struct {
	car.StateBase

	steer steerCalibration

	lkasDashState     int
	prevLKASDashState int
}

func newCarState(params car.CarParams, steer steerCalibration) *carState {
	return &carState{StateBase: car.NewStateBase(params), steer: steer}
}

func (cs *carState) preglobal() bool { return cs.Params.HasFlag(FlagPreglobal) }

func (cs *carState) update(ps car.Parsers) (car.CarState, car.ExtendedState) {
	pt, cam := ps[BusMain], ps[BusCamera]
	var ret car.CarState
	var ext car.ExtendedState

	ret.Gas = pt.Value("Throttle", "Throttle_Pedal") / 255
	ret.GasPressed = ret.Gas > 1e-5
	ret.Brake = pt.Value("Brake_Pedal", "Brake_Pedal")
	if cs.preglobal() {
		// pre-global cars have no brake switch message
		ret.BrakePressed = ret.Brake > 2
	} else {
		ret.BrakePressed = pt.Value("Brake_Status", "Brake") == 1
	}

	ret.WheelSpeeds = cs.WheelSpeeds(
		pt.Value("Wheel_Speeds", "FL"),
		pt.Value("Wheel_Speeds", "FR"),
		pt.Value("Wheel_Speeds", "RL"),
		pt.Value("Wheel_Speeds", "RR"),
		units.KPHToMS,
	)
	ret.VEgoRaw = ret.WheelSpeeds.Mean()
	ret.VEgo, ret.AEgo = cs.UpdateSpeed(ret.VEgoRaw)
	ret.VEgoCluster = ret.VEgo
	ret.Standstill = ret.VEgoRaw < standstillSpeed

	ret.LeftBlinker = pt.Value("Dashlights", "LEFT_BLINKER") == 1
	ret.RightBlinker = pt.Value("Dashlights", "RIGHT_BLINKER") == 1
	if cs.Params.EnableBSM {
		ret.LeftBlindspot = pt.Value("BSD_RCTA", "L_ADJACENT") == 1 || pt.Value("BSD_RCTA", "L_APPROACHING") == 1
		ret.RightBlindspot = pt.Value("BSD_RCTA", "R_ADJACENT") == 1 || pt.Value("BSD_RCTA", "R_APPROACHING") == 1
	}

	ret.GearShifter = cs.gear(pt)

	ret.SteeringAngleDeg = pt.Value("Steering", "Steering_Angle")
	ret.SteeringTorque = pt.Value("Steering_Torque", "Steer_Torque_Sensor")
	ret.SteeringTorqueEps = pt.Value("Steering_Torque", "Steer_Torque_Output")
	ret.SteeringPressed = math.Abs(ret.SteeringTorque) > cs.steer.DriverThreshold
	ret.SteerFaultTemporary = pt.Value("Steering_Torque", "Steer_Warning") == 1
	ret.SteerFaultPermanent = pt.Value("Steering_Torque", "Steer_Error_1") == 1

	ret.CruiseState.Available = pt.Value("CruiseControl", "Cruise_On") != 0
	ret.CruiseState.Enabled = pt.Value("CruiseControl", "Cruise_Activated") != 0
	ret.CruiseState.Speed = cam.Value("ES_DashStatus", "Cruise_Set_Speed") * units.KPHToMS
	ret.CruiseState.Standstill = cam.Value("ES_DashStatus", "Cruise_State") == cruiseStateStandstill
	ret.CruiseState.NonAdaptive = cam.Value("ES_DashStatus", "Conventional_Cruise") == 1
	ret.AccFaulted = cam.Value("ES_DashStatus", "Cruise_Fault") == 1

	ret.SeatbeltUnlatched = pt.Value("Dashlights", "SEATBELT_FL") == 1
	ret.DoorOpen = pt.Value("BodyInfo", "DOOR_OPEN_FR") == 1 ||
		pt.Value("BodyInfo", "DOOR_OPEN_FL") == 1 ||
		pt.Value("BodyInfo", "DOOR_OPEN_RR") == 1 ||
		pt.Value("BodyInfo", "DOOR_OPEN_RL") == 1

	cs.prevLKASDashState = cs.lkasDashState
	cs.lkasDashState = int(cam.Value("ES_LKAS_State", "LKAS_Dash_State"))
	ext.LKASEnabled = cs.lkasDashState != 0
	return ret, ext
}

func (cs *carState) gear(pt *candb.Parser) car.GearShifter {
	labels := database(cs.Params).ValueTable("Transmission", "Gear")
	return car.ParseGear(labels[int(pt.Value("Transmission", "Gear"))])
}

func (cs *carState) lkasButtonEvents() []car.ButtonEvent {
	return car.ButtonEvents(cs.lkasDashState, cs.prevLKASDashState, lkasButtonEvents, 0)
}

// parserMessages lists the messages read from each bus for params.
func parserMessages(params car.CarParams) map[uint8][]candb.MessageSpec {
	pt := []candb.MessageSpec{
		{Name: "Throttle", FrequencyHz: 100},
		{Name: "Brake_Pedal", FrequencyHz: 50},
		{Name: "Wheel_Speeds", FrequencyHz: 50},
		{Name: "Steering", FrequencyHz: 100},
		{Name: "Steering_Torque", FrequencyHz: 50},
		{Name: "Transmission", FrequencyHz: 100},
		{Name: "CruiseControl", FrequencyHz: 20},
		{Name: "Dashlights", FrequencyHz: 10},
		{Name: "BodyInfo", FrequencyHz: 1},
	}
	if !params.HasFlag(FlagPreglobal) {
		pt = append(pt, candb.MessageSpec{Name: "Brake_Status", FrequencyHz: 50})
	}
	if params.EnableBSM {
		pt = append(pt, candb.MessageSpec{Name: "BSD_RCTA", FrequencyHz: 17})
	}
	cam := []candb.MessageSpec{
		{Name: "ES_DashStatus", FrequencyHz: 10},
		{Name: "ES_LKAS_State", FrequencyHz: 10},
	}
	return map[uint8][]candb.MessageSpec{
		BusMain:   pt,
		BusCamera: cam,
	}
}
