package gm

import (
	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
)

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func createSteeringControl(p *candb.Packer, bus uint8, applySteer, idx int, active bool) (can.Frame, error) {
	act := int(b2f(active))
	checksum := (0x1000 - act<<11 - (applySteer & 0x7ff) - idx) & 0xfff
	return p.Make(bus, "ASCMLKASteeringCmd", map[string]float64{
		"LKASteeringCmdActive":   float64(act),
		"LKASteeringCmd":         float64(applySteer),
		"RollingCounter":         float64(idx),
		"LKASteeringCmdChecksum": float64(checksum),
	})
}

func createGasRegenCommand(p *candb.Packer, bus uint8, throttle, idx int, enabled, atFullStop bool) (can.Frame, error) {
	values := map[string]float64{
		"GasRegenCmdActive":      b2f(enabled),
		"RollingCounter":         float64(idx),
		"GasRegenCmdActiveInv":   1 - b2f(enabled),
		"GasRegenCmd":            float64(throttle),
		"GasRegenFullStopActive": b2f(atFullStop),
		"GasRegenAlwaysOne":      1,
		"GasRegenAlwaysOne2":     1,
		"GasRegenAlwaysOne3":     1,
	}
	f, err := p.Make(bus, "ASCMGasRegenCmd", values)
	if err != nil {
		return f, err
	}
	d := f.Data
	values["GasRegenChecksum"] = float64(int(0xff-d[1])<<16 | int(0xff-d[2])<<8 | (0x100-int(d[3])-idx)&0xff)
	return p.Make(bus, "ASCMGasRegenCmd", values)
}

// frictionBrakeMode picks the EBCMFrictionBrakeCmd mode nibble.
func frictionBrakeMode(applyBrake int, enabled, atFullStop bool, enabledMode int) int {
	mode := 0x1
	if enabled && enabledMode != 0 {
		mode = enabledMode
	}
	if applyBrake > 0 {
		mode = 0xa
	}
	if atFullStop {
		mode = 0xd
	}
	return mode
}

func createFrictionBrakeCommand(p *candb.Packer, bus uint8, applyBrake, idx, mode int) (can.Frame, error) {
	brake := (0x1000 - applyBrake) & 0xfff
	checksum := (0x10000 - mode<<12 - brake - idx) & 0xffff
	return p.Make(bus, "EBCMFrictionBrakeCmd", map[string]float64{
		"RollingCounter":        float64(idx),
		"FrictionBrakeMode":     float64(mode),
		"FrictionBrakeChecksum": float64(checksum),
		"FrictionBrakeCmd":      float64(-applyBrake),
	})
}

func createButtons(p *candb.Packer, bus uint8, idx, button int) (can.Frame, error) {
	const alwaysOne = 1
	checksum := 240 + alwaysOne*0xf
	checksum += idx * 0x4ef
	checksum -= (button - 1) << 4
	return p.Make(bus, "ASCMSteeringButton", map[string]float64{
		"ACCButtons":             float64(button),
		"RollingCounter":         float64(idx),
		"ACCAlwaysOne":           alwaysOne,
		"DistanceButton":         0,
		"SteeringButtonChecksum": float64(checksum & 0xfff),
	})
}
