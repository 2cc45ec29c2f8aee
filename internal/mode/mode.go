// Package mode decides whether the bridge may ever actuate, and when the
// vehicle interface has been initialized for control.
package mode

import "fmt"

// Mode is the bridge's control state.
type Mode int

const (
	// Passive never actuates. It is decided at startup and never left.
	Passive Mode = iota
	// ActiveUninitialized waits for the control stack to finish starting.
	ActiveUninitialized
	// ActiveInitialized may actuate whenever the control input is fresh.
	ActiveInitialized
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case ActiveUninitialized:
		return "active-uninitialized"
	case ActiveInitialized:
		return "active-initialized"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Startup is the static configuration the initial mode is decided from.
type Startup struct {
	HasController    bool
	DashcamOnly      bool
	OpenpilotEnabled bool
}

// Initial returns Passive unless a controller exists, the vehicle is not
// dashcam-only and the user has automated control enabled.
func Initial(s Startup) Mode {
	if !s.HasController || s.DashcamOnly || !s.OpenpilotEnabled {
		return Passive
	}
	return ActiveUninitialized
}

// Hooks run once on the transition to ActiveInitialized: Init first, then
// Ready to tell the safety gateway the bridge is ready.
type Hooks struct {
	Init  func() error
	Ready func()
}

// Controller owns the mode. It is not safe for concurrent use; the control
// loop is its only caller.
type Controller struct {
	mode  Mode
	hooks Hooks

	initCalls int
	initErr   error
}

// NewController creates a controller in the mode decided by s.
func NewController(s Startup, hooks Hooks) *Controller {
	return &Controller{mode: Initial(s), hooks: hooks}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// Passive reports whether the controller is in Passive mode.
func (c *Controller) Passive() bool { return c.mode == Passive }

// Initialized reports whether the controller reached ActiveInitialized.
func (c *Controller) Initialized() bool { return c.mode == ActiveInitialized }

// InitCalls returns how many times the Init hook ran.
func (c *Controller) InitCalls() int { return c.initCalls }

// InitErr returns the error the Init hook returned, if any.
func (c *Controller) InitErr() error { return c.initErr }

// Observe advances ActiveUninitialized to ActiveInitialized once an
// upstream event snapshot has been seen and it no longer reports the
// control stack as initializing. It returns true on the cycle the
// transition happens. An Init error is kept for diagnostics but does not
// hold the transition back.
func (c *Controller) Observe(snapshotSeen, controlsInitializing bool) bool {
	if c.mode != ActiveUninitialized {
		return false
	}
	if !snapshotSeen || controlsInitializing {
		return false
	}
	c.mode = ActiveInitialized
	c.initCalls++
	if c.hooks.Init != nil {
		c.initErr = c.hooks.Init()
	}
	if c.hooks.Ready != nil {
		c.hooks.Ready()
	}
	return true
}

// MayActuate reports whether frames may be sent this cycle.
func (c *Controller) MayActuate(controlFresh bool) bool {
	return c.mode == ActiveInitialized && controlFresh
}
