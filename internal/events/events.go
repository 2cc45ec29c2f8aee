// Package events holds the discrete per-cycle event names the bridge
// publishes alongside vehicle state, and the aggregator that combines the
// events a vehicle interface decoded with cross-cycle pedal rules.
package events

// Name identifies one discrete event.
type Name string

// Events raised by vehicle interfaces and the aggregator.
const (
	DoorOpen                   Name = "doorOpen"
	SeatbeltNotLatched         Name = "seatbeltNotLatched"
	WrongGear                  Name = "wrongGear"
	ReverseGear                Name = "reverseGear"
	WrongCarMode               Name = "wrongCarMode"
	EspDisabled                Name = "espDisabled"
	StockAeb                   Name = "stockAeb"
	SpeedTooHigh               Name = "speedTooHigh"
	WrongCruiseMode            Name = "wrongCruiseMode"
	ParkBrake                  Name = "parkBrake"
	AccFaulted                 Name = "accFaulted"
	SteerOverride              Name = "steerOverride"
	PreEnableStandstill        Name = "preEnableStandstill"
	GasPressedOverride         Name = "gasPressedOverride"
	ButtonEnable               Name = "buttonEnable"
	ButtonCancel               Name = "buttonCancel"
	SteerTempUnavailable       Name = "steerTempUnavailable"
	SteerTempUnavailableSilent Name = "steerTempUnavailableSilent"
	SteerUnavailable           Name = "steerUnavailable"
	PcmEnable                  Name = "pcmEnable"
	PcmDisable                 Name = "pcmDisable"
	BelowEngageSpeed           Name = "belowEngageSpeed"
	BelowSteerSpeed            Name = "belowSteerSpeed"
	ResumeRequired             Name = "resumeRequired"
	PedalPressed               Name = "pedalPressed"

	// ControlsInitializing is raised upstream while the control stack
	// is starting; the bridge only reads it.
	ControlsInitializing Name = "controlsInitializing"
)

// Set is an insertion-ordered set of event names.
type Set struct {
	names []Name
}

// Add inserts n if it is not already present.
func (s *Set) Add(n Name) {
	if s.Has(n) {
		return
	}
	s.names = append(s.names, n)
}

// AddAll inserts every name in ns.
func (s *Set) AddAll(ns []Name) {
	for _, n := range ns {
		s.Add(n)
	}
}

// Has reports whether n is in the set.
func (s *Set) Has(n Name) bool {
	for _, m := range s.names {
		if m == n {
			return true
		}
	}
	return false
}

// Clear empties the set, keeping its storage.
func (s *Set) Clear() {
	s.names = s.names[:0]
}

// Len returns the number of events.
func (s *Set) Len() int { return len(s.names) }

// Names returns a copy of the events in insertion order.
func (s *Set) Names() []Name {
	out := make([]Name, len(s.names))
	copy(out, s.names)
	return out
}

// Contains reports whether names includes n.
func Contains(names []Name, n Name) bool {
	for _, m := range names {
		if m == n {
			return true
		}
	}
	return false
}
