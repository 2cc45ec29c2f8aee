package config

import "github.com/banshee-data/canbridge/internal/params"

// AccelerationProfileSport is the acceleration profile that raises the
// longitudinal limits to the ISO maximum.
const AccelerationProfileSport = 3

// ParamReader is the read side of the params store used for toggles.
type ParamReader interface {
	GetBool(key string) bool
	GetInt(key string, def int) int
}

// Toggles are user settings the control loop reads every cycle. They are
// loaded at startup and reloaded when the planner announces a change.
type Toggles struct {
	OpenpilotEnabled         bool
	DisengageOnAccelerator   bool
	ExperimentalLongitudinal bool
	AccelerationProfile      int
	AlwaysOnLateral          bool
}

// DefaultToggles matches a freshly installed device.
func DefaultToggles() Toggles {
	return Toggles{
		OpenpilotEnabled:       true,
		DisengageOnAccelerator: true,
	}
}

// LoadToggles reads toggles from the params store. Missing keys read as
// false, so a store that never saw a toggle disables the matching feature.
func LoadToggles(r ParamReader) Toggles {
	return Toggles{
		OpenpilotEnabled:         r.GetBool(params.OpenpilotEnabledToggle),
		DisengageOnAccelerator:   r.GetBool(params.DisengageOnAccelerator),
		ExperimentalLongitudinal: r.GetBool(params.ExperimentalLongitudinalEnabled),
		AccelerationProfile:      r.GetInt(params.AccelerationProfile, 0),
		AlwaysOnLateral:          r.GetBool(params.AlwaysOnLateral),
	}
}
