package car

import (
	"fmt"

	"github.com/banshee-data/canbridge/internal/events"
)

// GearShifter is the gear selector position.
type GearShifter int

const (
	GearUnknown GearShifter = iota
	GearPark
	GearDrive
	GearNeutral
	GearReverse
	GearSport
	GearLow
	GearBrake
	GearEco
	GearManumatic
)

var gearNames = [...]string{"unknown", "park", "drive", "neutral", "reverse", "sport", "low", "brake", "eco", "manumatic"}

func (g GearShifter) String() string {
	if int(g) < len(gearNames) {
		return gearNames[g]
	}
	return fmt.Sprintf("gear(%d)", int(g))
}

// MarshalText encodes the gear by name.
func (g GearShifter) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// ButtonType identifies a steering wheel or dash button.
type ButtonType int

const (
	ButtonUnknown ButtonType = iota
	ButtonLeftBlinker
	ButtonRightBlinker
	ButtonAccelCruise
	ButtonDecelCruise
	ButtonCancel
	ButtonAltButton3
	ButtonSetCruise
	ButtonResumeCruise
	ButtonGapAdjustCruise
	ButtonMainCruise
	ButtonLKAS
)

var buttonNames = [...]string{"unknown", "leftBlinker", "rightBlinker", "accelCruise", "decelCruise", "cancel",
	"altButton3", "setCruise", "resumeCruise", "gapAdjustCruise", "mainCruise", "lkas"}

func (b ButtonType) String() string {
	if int(b) < len(buttonNames) {
		return buttonNames[b]
	}
	return fmt.Sprintf("button(%d)", int(b))
}

// MarshalText encodes the button by name.
func (b ButtonType) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// ButtonEvent is a press or release of one button.
type ButtonEvent struct {
	Type    ButtonType `json:"type"`
	Pressed bool       `json:"pressed"`
}

// CruiseState is the stock cruise control status.
type CruiseState struct {
	Available   bool    `json:"available"`
	Enabled     bool    `json:"enabled"`
	Speed       float64 `json:"speed"`
	Standstill  bool    `json:"standstill"`
	NonAdaptive bool    `json:"nonAdaptive"`
}

// WheelSpeeds are per-wheel speeds in m/s.
type WheelSpeeds struct {
	FL float64 `json:"fl"`
	FR float64 `json:"fr"`
	RL float64 `json:"rl"`
	RR float64 `json:"rr"`
}

// CarState is the decoded vehicle state for one cycle, in SI units.
// A published CarState is never modified.
type CarState struct {
	VEgo        float64     `json:"vEgo"`
	AEgo        float64     `json:"aEgo"`
	VEgoRaw     float64     `json:"vEgoRaw"`
	VEgoCluster float64     `json:"vEgoCluster"`
	WheelSpeeds WheelSpeeds `json:"wheelSpeeds"`
	Standstill  bool        `json:"standstill"`

	Gas          float64 `json:"gas"`
	GasPressed   bool    `json:"gasPressed"`
	Brake        float64 `json:"brake"`
	BrakePressed bool    `json:"brakePressed"`
	RegenBraking bool    `json:"regenBraking"`
	ParkingBrake bool    `json:"parkingBrake"`

	SteeringAngleDeg    float64     `json:"steeringAngleDeg"`
	SteeringRateDeg     float64     `json:"steeringRateDeg"`
	SteeringTorque      float64     `json:"steeringTorque"`
	SteeringTorqueEps   float64     `json:"steeringTorqueEps"`
	SteeringPressed     bool        `json:"steeringPressed"`
	SteerFaultTemporary bool        `json:"steerFaultTemporary"`
	SteerFaultPermanent bool        `json:"steerFaultPermanent"`
	GearShifter         GearShifter `json:"gearShifter"`
	CruiseState         CruiseState `json:"cruiseState"`

	DoorOpen          bool `json:"doorOpen"`
	SeatbeltUnlatched bool `json:"seatbeltUnlatched"`
	LeftBlinker       bool `json:"leftBlinker"`
	RightBlinker      bool `json:"rightBlinker"`
	LeftBlindspot     bool `json:"leftBlindspot"`
	RightBlindspot    bool `json:"rightBlindspot"`
	EspDisabled       bool `json:"espDisabled"`
	AccFaulted        bool `json:"accFaulted"`
	StockAeb          bool `json:"stockAeb"`

	ButtonEvents []ButtonEvent `json:"buttonEvents"`
	Events       []events.Name `json:"events"`

	CanValid        bool    `json:"canValid"`
	CanErrorCounter uint64  `json:"canErrorCounter"`
	CumLagMs        float64 `json:"cumLagMs"`
}

// PedalState extracts what the pedal edge rule reads.
func (cs CarState) PedalState() events.PedalState {
	return events.PedalState{
		GasPressed:   cs.GasPressed,
		BrakePressed: cs.BrakePressed,
		RegenBraking: cs.RegenBraking,
	}
}

// ExtendedState carries platform-family fields outside CarState.
type ExtendedState struct {
	SportGear       bool          `json:"sportGear"`
	LKASEnabled     bool          `json:"lkasEnabled"`
	DistanceButton  int           `json:"distanceButton"`
	CruiseButtons   int           `json:"cruiseButtons"`
	SinglePedalMode bool          `json:"singlePedalMode"`
	ButtonEvents    []ButtonEvent `json:"buttonEvents"`
	CanValid        bool          `json:"canValid"`
}

// Actuators are actuator targets. In CarControl they are requests; returned
// from ApplyControl they are what was encoded.
type Actuators struct {
	Gas              float64 `json:"gas"`
	Brake            float64 `json:"brake"`
	Steer            float64 `json:"steer"`
	SteerOutputCAN   float64 `json:"steerOutputCan"`
	SteeringAngleDeg float64 `json:"steeringAngleDeg"`
	Accel            float64 `json:"accel"`
	// Stopping is set while longitudinal control is bringing the car to rest.
	Stopping bool `json:"stopping"`
}

// CruiseControl carries cruise button requests.
type CruiseControl struct {
	Cancel bool `json:"cancel"`
	Resume bool `json:"resume"`
}

// HUDControl carries dash display requests.
type HUDControl struct {
	SetSpeed     float64 `json:"setSpeed"`
	LeadVisible  bool    `json:"leadVisible"`
	LeadDistance int     `json:"leadDistanceBars"`
}

// CarControl is the control request from the upstream stack.
type CarControl struct {
	Enabled       bool          `json:"enabled"`
	LatActive     bool          `json:"latActive"`
	LongActive    bool          `json:"longActive"`
	Actuators     Actuators     `json:"actuators"`
	CruiseControl CruiseControl `json:"cruiseControl"`
	HUDControl    HUDControl    `json:"hudControl"`
}

// CarOutput is what the bridge reports it actually sent.
type CarOutput struct {
	ActuatorsOutput Actuators `json:"actuatorsOutput"`
}
