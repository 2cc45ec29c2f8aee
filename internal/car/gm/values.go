// Package gm implements the General Motors Global A vehicle platform:
// camera-integrated ACC cars, gateway (ASCM) cars, SDGM cars that route
// body signals through the camera, and cruise-control-only variants.
package gm

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/units"
)

//go:embed gm_global_a.toml
var globalATable []byte

//go:embed platforms.toml
var platformsTable []byte

// Bus numbers.
const (
	BusPowertrain uint8 = 0
	BusObstacle   uint8 = 1
	BusCamera     uint8 = 2
	BusChassis    uint8 = 2
	BusLoopback   uint8 = 128
)

// Platform flags stored in CarParams.Flags.
const (
	FlagCameraACC uint32 = 1 << iota
	FlagSDGM
	FlagCCOnly
	FlagEV
	FlagNoCamera
	FlagNoAcceleratorPosMsg
)

// Safety parameter bits for the gm safety model.
const (
	SafetyParamHWCam          uint32 = 1
	SafetyParamHWCamLong      uint32 = 2
	SafetyParamGasInterceptor uint32 = 8
)

// Fingerprint addresses that switch optional features on.
const (
	gasSensorAddr   uint32 = 0x201
	bsmAddr         uint32 = 0x142
	radarHeaderAddr uint32 = 0x460
)

// CruiseButtons values of ASCMSteeringButton.ACCButtons.
const (
	CruiseButtonsInit     = 0
	CruiseButtonsUnpress  = 1
	CruiseButtonsResAccel = 2
	CruiseButtonsDecelSet = 3
	CruiseButtonsMain     = 5
	CruiseButtonsCancel   = 6
)

// AccState values of AcceleratorPedal2.CruiseState.
const (
	AccStateOff        = 0
	AccStateActive     = 1
	AccStateFaulted    = 3
	AccStateStandstill = 4
)

// Wheel direction value for a wheel turning backwards.
const wheelDirBackward = 2

var cruiseButtonEvents = map[int]car.ButtonType{
	CruiseButtonsResAccel: car.ButtonAccelCruise,
	CruiseButtonsDecelSet: car.ButtonDecelCruise,
	CruiseButtonsMain:     car.ButtonAltButton3,
	CruiseButtonsCancel:   car.ButtonCancel,
}

var (
	distanceButtonEvents = map[int]car.ButtonType{1: car.ButtonGapAdjustCruise}
	lkasButtonEvents     = map[int]car.ButtonType{1: car.ButtonLKAS}
)

type steerCalibration struct {
	Step             int             `toml:"step"`
	InactiveStep     int             `toml:"inactive_step"`
	MinMsgIntervalMs float64         `toml:"min_msg_interval_ms"`
	DriverThreshold  float64         `toml:"driver_threshold"`
	Limits           car.SteerLimits `toml:"limits"`
}

type regenCalibration struct {
	MaxGas          float64 `toml:"max_gas"`
	MaxAccRegen     float64 `toml:"max_acc_regen"`
	InactiveRegen   float64 `toml:"inactive_regen"`
	MaxRegenAccel   float64 `toml:"max_regen_accel"`
	MaxRegenAccelEV float64 `toml:"max_regen_accel_ev"`
}

type longCalibration struct {
	ZeroGas  float64          `toml:"zero_gas"`
	MaxBrake float64          `toml:"max_brake"`
	AccelMax float64          `toml:"accel_max"`
	AccelMin float64          `toml:"accel_min"`
	Camera   regenCalibration `toml:"camera"`
	Gateway  regenCalibration `toml:"gateway"`
}

type platformCalibration struct {
	Model               string  `toml:"model"`
	CameraACC           bool    `toml:"camera_acc"`
	SDGM                bool    `toml:"sdgm"`
	CCOnly              bool    `toml:"cc_only"`
	EV                  bool    `toml:"ev"`
	NoCamera            bool    `toml:"no_camera"`
	NoAcceleratorPosMsg bool    `toml:"no_accelerator_pos_msg"`
	EnabledBrakeMode    int     `toml:"enabled_brake_mode"`
	Mass                float64 `toml:"mass"`
	Wheelbase           float64 `toml:"wheelbase"`
	SteerRatio          float64 `toml:"steer_ratio"`
	CenterToFrontRatio  float64 `toml:"center_to_front_ratio"`
	SteerActuatorDelay  float64 `toml:"steer_actuator_delay"`
	WheelSpeedFactor    float64 `toml:"wheel_speed_factor"`
}

func (p platformCalibration) flags() uint32 {
	var f uint32
	for _, b := range []struct {
		on   bool
		flag uint32
	}{
		{p.CameraACC, FlagCameraACC},
		{p.SDGM, FlagSDGM},
		{p.CCOnly, FlagCCOnly},
		{p.EV, FlagEV},
		{p.NoCamera, FlagNoCamera},
		{p.NoAcceleratorPosMsg, FlagNoAcceleratorPosMsg},
	} {
		if b.on {
			f |= b.flag
		}
	}
	return f
}

type calibration struct {
	Steer      steerCalibration `toml:"steer"`
	Standstill struct {
		WheelCounts float64 `toml:"wheel_counts"`
	} `toml:"standstill"`
	Longitudinal longCalibration       `toml:"longitudinal"`
	Platforms    []platformCalibration `toml:"platform"`

	byModel map[string]*platformCalibration
}

// standstillThreshold is the rear wheel speed in m/s at or below which the
// car is considered stopped.
func (c *calibration) standstillThreshold() float64 {
	return c.Standstill.WheelCounts * wheelSpeedCountKPH * units.KPHToMS
}

// wheelSpeedCountKPH is the resolution of the EBCM wheel speed signals.
const wheelSpeedCountKPH = 0.0311

func loadCalibration(data []byte) (*calibration, error) {
	var c calibration
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("gm: parse calibration: %w", err)
	}
	c.byModel = make(map[string]*platformCalibration, len(c.Platforms))
	for i := range c.Platforms {
		p := &c.Platforms[i]
		if p.Model == "" {
			return nil, fmt.Errorf("gm: platform %d has no model", i)
		}
		if _, dup := c.byModel[p.Model]; dup {
			return nil, fmt.Errorf("gm: platform %s listed twice", p.Model)
		}
		c.byModel[p.Model] = p
	}
	if c.Steer.Limits.SteerMax <= 0 {
		return nil, fmt.Errorf("gm: steer_max must be positive")
	}
	return &c, nil
}

// Both tables are embedded; a bad table panics at init.
var (
	globalA = candb.MustLoad(globalATable)
	calib   = mustLoadCalibration(platformsTable)
)

func mustLoadCalibration(data []byte) *calibration {
	c, err := loadCalibration(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Models lists every GM model this package supports.
func Models() []string {
	out := make([]string, 0, len(calib.Platforms))
	for _, p := range calib.Platforms {
		out = append(out, p.Model)
	}
	return out
}

func init() {
	car.Register("gm", Models(), factory)
}
