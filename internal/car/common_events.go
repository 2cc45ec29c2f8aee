package car

import (
	"github.com/banshee-data/canbridge/internal/events"
	"github.com/banshee-data/canbridge/internal/units"
)

// MaxCtrlSpeed is the highest speed control may be engaged at, in m/s.
const MaxCtrlSpeed = (145 + 4) * units.KPHToMS

// steerWarningCycles is how recently the driver must have been steering
// for a temporary steering fault to be reported silently.
const steerWarningCycles = int(1.5 / DtCtrl)

// CommonEventOptions tune CreateCommonEvents per platform.
type CommonEventOptions struct {
	// ExtraGears are accepted in addition to drive.
	ExtraGears []GearShifter
	// PCMEnable engages on the stock cruise enabled edge.
	PCMEnable bool
	// BlockEnable stops PCMEnable from raising an enable event.
	BlockEnable bool
	// EnableButtons engage on release when the stock cruise is not used.
	// Nil means accel and decel.
	EnableButtons []ButtonType
}

// EventTracker holds the cross-cycle state of the common event rules.
type EventTracker struct {
	steeringUnpressed  int
	noSteerWarning     bool
	silentSteerWarning bool
}

// CreateCommonEvents returns the events every platform raises from its
// decoded state. prev is the previous cycle's state.
func (t *EventTracker) CreateCommonEvents(cs, prev CarState, cp CarParams, opts CommonEventOptions) []events.Name {
	var ev events.Set

	if cs.DoorOpen {
		ev.Add(events.DoorOpen)
	}
	if cs.SeatbeltUnlatched {
		ev.Add(events.SeatbeltNotLatched)
	}
	if cs.GearShifter != GearDrive && !containsGear(opts.ExtraGears, cs.GearShifter) {
		ev.Add(events.WrongGear)
	}
	if cs.GearShifter == GearReverse {
		ev.Add(events.ReverseGear)
	}
	if !cs.CruiseState.Available {
		ev.Add(events.WrongCarMode)
	}
	if cs.EspDisabled {
		ev.Add(events.EspDisabled)
	}
	if cs.StockAeb {
		ev.Add(events.StockAeb)
	}
	if cs.VEgo > MaxCtrlSpeed {
		ev.Add(events.SpeedTooHigh)
	}
	if cs.CruiseState.NonAdaptive {
		ev.Add(events.WrongCruiseMode)
	}
	if cs.ParkingBrake {
		ev.Add(events.ParkBrake)
	}
	if cs.AccFaulted {
		ev.Add(events.AccFaulted)
	}
	if cs.SteeringPressed {
		ev.Add(events.SteerOverride)
	}
	if cs.BrakePressed && cs.Standstill {
		ev.Add(events.PreEnableStandstill)
	}
	if cs.GasPressed {
		ev.Add(events.GasPressedOverride)
	}

	enableButtons := opts.EnableButtons
	if enableButtons == nil {
		enableButtons = []ButtonType{ButtonAccelCruise, ButtonDecelCruise}
	}
	for _, b := range cs.ButtonEvents {
		if !cp.PCMCruise && !b.Pressed && containsButton(enableButtons, b.Type) {
			ev.Add(events.ButtonEnable)
		}
		if b.Type == ButtonCancel {
			ev.Add(events.ButtonCancel)
		}
	}

	if cs.SteeringPressed {
		t.steeringUnpressed = 0
	} else {
		t.steeringUnpressed++
	}
	if cs.SteerFaultTemporary {
		if cs.SteeringPressed && (!prev.SteerFaultTemporary || t.noSteerWarning) {
			t.noSteerWarning = true
		} else {
			t.noSteerWarning = false
			if t.silentSteerWarning || cs.Standstill || t.steeringUnpressed < steerWarningCycles {
				t.silentSteerWarning = true
				ev.Add(events.SteerTempUnavailableSilent)
			} else {
				ev.Add(events.SteerTempUnavailable)
			}
		}
	} else {
		t.noSteerWarning = false
		t.silentSteerWarning = false
	}
	if cs.SteerFaultPermanent {
		ev.Add(events.SteerUnavailable)
	}

	if opts.PCMEnable {
		if cs.CruiseState.Enabled && !prev.CruiseState.Enabled && !opts.BlockEnable {
			ev.Add(events.PcmEnable)
		} else if !cs.CruiseState.Enabled {
			ev.Add(events.PcmDisable)
		}
	}
	return ev.Names()
}

func containsGear(gs []GearShifter, g GearShifter) bool {
	for _, x := range gs {
		if x == g {
			return true
		}
	}
	return false
}

func containsButton(bs []ButtonType, b ButtonType) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}
