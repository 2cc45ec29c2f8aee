// Package subaru implements the Subaru EyeSight platforms: global cars,
// second-generation global cars, and the older pre-global network.
package subaru

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
)

//go:embed subaru_global.toml
var globalTable []byte

//go:embed subaru_preglobal.toml
var preglobalTable []byte

//go:embed platforms.toml
var platformsTable []byte

// Bus numbers.
const (
	BusMain   uint8 = 0
	BusAlt    uint8 = 1
	BusCamera uint8 = 2
)

// Platform flags stored in CarParams.Flags.
const (
	FlagGlobalGen2 uint32 = 1 << iota
	FlagPreglobal
	FlagHybrid
	FlagLKASAngle
	FlagSendInfotainment
	FlagDisableEyesight
)

// Safety parameter bits for the subaru safety models.
const (
	SafetyParamGen2                    uint32 = 1
	SafetyParamLong                    uint32 = 2
	SafetyParamPreglobalReversedTorque uint32 = 1
)

// Addresses probed in the fingerprint, and the EyeSight diagnostic address.
const (
	infotainmentAddr uint32 = 0x323
	bsmAddr          uint32 = 0x228
	bsmAddrPreglobal uint32 = 0x25c
	eyesightAddr     uint32 = 0x787
)

// eyesightComContReq silences EyeSight without disabling its diagnostics.
var eyesightComContReq = []byte{0x28, 0x03, 0x01}

var lkasButtonEvents = map[int]car.ButtonType{1: car.ButtonLKAS}

type steerCalibration struct {
	Step            int             `toml:"step"`
	DriverThreshold float64         `toml:"driver_threshold"`
	Limits          car.SteerLimits `toml:"limits"`
}

type platformCalibration struct {
	Model                string  `toml:"model"`
	Gen2                 bool    `toml:"gen2"`
	Preglobal            bool    `toml:"preglobal"`
	Hybrid               bool    `toml:"hybrid"`
	LKASAngle            bool    `toml:"lkas_angle"`
	ReversedDriverTorque bool    `toml:"reversed_driver_torque"`
	SteerMax             float64 `toml:"steer_max"`
	Mass                 float64 `toml:"mass"`
	Wheelbase            float64 `toml:"wheelbase"`
	SteerRatio           float64 `toml:"steer_ratio"`
	SteerActuatorDelay   float64 `toml:"steer_actuator_delay"`
}

func (p platformCalibration) flags() uint32 {
	var f uint32
	if p.Gen2 {
		f |= FlagGlobalGen2
	}
	if p.Preglobal {
		f |= FlagPreglobal
	}
	if p.Hybrid {
		f |= FlagHybrid
	}
	if p.LKASAngle {
		f |= FlagLKASAngle
	}
	return f
}

type calibration struct {
	Steer     steerCalibration `toml:"steer"`
	Preglobal struct {
		Steer steerCalibration `toml:"steer"`
	} `toml:"preglobal"`
	Platforms []platformCalibration `toml:"platform"`

	byModel map[string]*platformCalibration
}

// steer returns the steering calibration for a platform, with the
// per-model torque ceiling applied.
func (c *calibration) steer(p *platformCalibration) steerCalibration {
	s := c.Steer
	if p.Preglobal {
		s = c.Preglobal.Steer
	}
	if p.SteerMax > 0 {
		s.Limits.SteerMax = p.SteerMax
	}
	return s
}

func loadCalibration(data []byte) (*calibration, error) {
	var c calibration
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("subaru: parse calibration: %w", err)
	}
	c.byModel = make(map[string]*platformCalibration, len(c.Platforms))
	for i := range c.Platforms {
		p := &c.Platforms[i]
		if p.Model == "" {
			return nil, fmt.Errorf("subaru: platform %d has no model", i)
		}
		if _, dup := c.byModel[p.Model]; dup {
			return nil, fmt.Errorf("subaru: platform %s listed twice", p.Model)
		}
		c.byModel[p.Model] = p
	}
	if c.Steer.Limits.SteerMax <= 0 || c.Preglobal.Steer.Limits.SteerMax <= 0 {
		return nil, fmt.Errorf("subaru: steer_max must be positive")
	}
	if c.Steer.Step <= 0 || c.Preglobal.Steer.Step <= 0 {
		return nil, fmt.Errorf("subaru: steer step must be positive")
	}
	return &c, nil
}

var (
	globalDB    = candb.MustLoad(globalTable)
	preglobalDB = candb.MustLoad(preglobalTable)
	calib       = mustLoadCalibration(platformsTable)
)

func mustLoadCalibration(data []byte) *calibration {
	c, err := loadCalibration(data)
	if err != nil {
		panic(err)
	}
	return c
}

// database returns the message table for a platform.
func database(params car.CarParams) *candb.Database {
	if params.HasFlag(FlagPreglobal) {
		return preglobalDB
	}
	return globalDB
}

// Models lists every Subaru model this package supports.
func Models() []string {
	out := make([]string, 0, len(calib.Platforms))
	for _, p := range calib.Platforms {
		out = append(out, p.Model)
	}
	return out
}

func init() {
	car.Register("subaru", Models(), factory)
}
