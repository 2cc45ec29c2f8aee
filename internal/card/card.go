// Package card runs the vehicle bridge control loop. Every cycle it drains
// received frames, decodes them into vehicle state through the platform
// interface, applies the pedal rules, publishes the state, and, when the
// mode allows and the control input is fresh, encodes and transmits the
// requested control.
package card

import (
	"context"
	"sync"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/events"
	"github.com/banshee-data/canbridge/internal/messaging"
	"github.com/banshee-data/canbridge/internal/mode"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/realtime"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// carParamsInterval is how many cycles apart carParams is published,
// 50 s at 100 Hz.
const carParamsInterval = 5000

// Receiver is the frame queue the loop drains.
type Receiver interface {
	Receive(ctx context.Context, blocking bool) []can.Batch
}

// Sender puts outgoing frames on the bus without blocking.
type Sender interface {
	Transmit(frames []can.Frame)
}

// Car is the control loop. All of its fields are owned by the goroutine
// that calls Step or Run; Status may be called from anywhere.
type Car struct {
	ci      car.Interface
	params  car.CarParams
	ext     car.ExtendedParams
	mode    *mode.Controller
	rx      Receiver
	tx      Sender
	sm      *messaging.SubMaster
	pm      *messaging.PubMaster
	rk      *realtime.Ratekeeper
	clock   timeutil.Clock
	store   ParamStore
	toggles config.Toggles
	agg     events.Aggregator
	warn    monitoring.OnceLogger

	replay                 bool
	disengageOnAccelerator bool

	canTimeouts     uint64
	canLogMonoTime  uint64
	ccPrev          car.CarControl
	csPrev          car.CarState
	lastActuators   car.Actuators
	initCtx         context.Context
	actuatedCycles  uint64
	suppressedCycle uint64

	statusMu sync.Mutex
	status   Status
}

// Status is a snapshot of the loop for the debug surface.
type Status struct {
	Mode            mode.Mode          `json:"mode"`
	CarName         string             `json:"carName"`
	CarModel        string             `json:"carFingerprint"`
	Frame           uint64             `json:"frame"`
	CanTimeouts     uint64             `json:"canTimeouts"`
	ActuatedCycles  uint64             `json:"actuatedCycles"`
	SuppressedCycle uint64             `json:"suppressedCycles"`
	SafetyConfigs   []car.SafetyConfig `json:"safetyConfigs"`
	CarState        car.CarState       `json:"carState"`
	Actuators       car.Actuators      `json:"actuatorsOutput"`
	Rate            realtime.Stats     `json:"rate"`
}

// Params returns the resolved vehicle parameters.
func (c *Car) Params() car.CarParams { return c.params }

// Mode returns the current control mode.
func (c *Car) Mode() mode.Mode { return c.mode.Mode() }

// Ratekeeper returns the loop's rate keeper.
func (c *Car) Ratekeeper() *realtime.Ratekeeper { return c.rk }

// LagHistory returns recent per-cycle lag in milliseconds, oldest first.
func (c *Car) LagHistory() []float64 { return c.rk.LagHistory() }

// Status returns the snapshot taken at the end of the last cycle.
func (c *Car) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Run steps the loop at the configured rate until ctx is done.
func (c *Car) Run(ctx context.Context) error {
	monitoring.Logf("[card] running %s in %s mode", c.params.CarModel, c.mode.Mode())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Step(ctx)
		c.rk.KeepTime()
	}
}

// Step runs one cycle of the pipeline.
func (c *Car) Step(ctx context.Context) {
	c.initCtx = ctx
	cs, ext := c.stateUpdate(ctx)
	c.updateEvents(&cs)
	c.statePublish(cs, ext)

	seen := c.sm.Seen(messaging.TopicOnroadEvents)
	initializing, ok := controlsInitializing(c.sm.Get(messaging.TopicOnroadEvents).Payload)
	if seen && !ok {
		c.warn.Logf("onroadEvents", "[card] unreadable onroadEvents snapshot, holding controls initialization")
	}
	if c.mode.Observe(seen, initializing || !ok) {
		if err := c.mode.InitErr(); err != nil {
			monitoring.Warnf("[card] vehicle init: %v", err)
		}
		monitoring.Logf("[card] controls initialized")
	}
	if c.mode.Initialized() {
		c.controlsUpdate(cs)
	}

	c.csPrev = cs
	c.snapshot(cs)
	c.refreshToggles()
}

func (c *Car) stateUpdate(ctx context.Context) (car.CarState, car.ExtendedState) {
	batches := c.rx.Receive(ctx, true)
	cs, ext := c.ci.DecodeState(batches, c.ccPrev, c.toggles)

	c.sm.Update()

	if len(batches) == 0 {
		c.canTimeouts++
	} else if c.replay {
		c.canLogMonoTime = batches[0].LogMonoTime
	}
	return cs, ext
}

func (c *Car) updateEvents(cs *car.CarState) {
	cs.Events = c.agg.Update(cs.PedalState(), c.csPrev.PedalState(), cs.Events, c.disengageOnAccelerator)
}

func (c *Car) statePublish(cs car.CarState, ext car.ExtendedState) {
	if c.sm.Frame()%carParamsInterval == 1 {
		c.pm.Send(messaging.TopicCarParams, c.params, true)
	}

	c.pm.Send(messaging.TopicCarOutput, car.CarOutput{ActuatorsOutput: c.lastActuators},
		c.sm.AllChecks(messaging.TopicCarControl))

	cs.CanErrorCounter = c.canTimeouts
	cs.CumLagMs = -c.rk.Remaining().Seconds() * 1000
	c.pm.Send(messaging.TopicCarState, cs, cs.CanValid)
	c.pm.Send(messaging.TopicFrogpilotCarState, ext, cs.CanValid)
}

func (c *Car) controlsUpdate(cs car.CarState) {
	if !c.mode.MayActuate(c.sm.AllAlive(messaging.TopicCarControl)) {
		c.suppressedCycle++
		return
	}
	cc, err := messaging.DecodePayload[car.CarControl](c.sm.Get(messaging.TopicCarControl).Payload)
	if err != nil {
		c.warn.Logf("carControl", "[card] unreadable carControl: %v", err)
		c.suppressedCycle++
		return
	}

	nowNanos := timeutil.Nanos(c.clock)
	if c.replay {
		nowNanos = c.canLogMonoTime
	}
	var sends []can.Frame
	c.lastActuators, sends = c.ci.ApplyControl(cc, nowNanos, c.toggles)
	c.pm.Send(messaging.TopicSendCAN, sends, cs.CanValid)
	c.tx.Transmit(sends)
	c.actuatedCycles++

	c.ccPrev = cc
}

// refreshToggles reloads toggles when the planner announces a change.
func (c *Car) refreshToggles() {
	if !c.sm.Updated(messaging.TopicFrogpilotPlan) {
		return
	}
	plan, err := messaging.DecodePayload[messaging.FrogpilotPlan](c.sm.Get(messaging.TopicFrogpilotPlan).Payload)
	if err != nil || !plan.TogglesUpdated {
		return
	}
	c.toggles = config.LoadToggles(c.store)
	monitoring.Logf("[card] toggles reloaded")
}

// Toggles returns the toggles passed to the platform this cycle.
func (c *Car) Toggles() config.Toggles { return c.toggles }

func (c *Car) snapshot(cs car.CarState) {
	s := Status{
		Mode:            c.mode.Mode(),
		CarName:         c.params.CarName,
		CarModel:        c.params.CarModel,
		Frame:           c.sm.Frame(),
		CanTimeouts:     c.canTimeouts,
		ActuatedCycles:  c.actuatedCycles,
		SuppressedCycle: c.suppressedCycle,
		SafetyConfigs:   c.params.SafetyConfigs,
		CarState:        cs,
		Actuators:       c.lastActuators,
		Rate:            c.rk.Stats(),
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// onroadEvent is the object form of one entry in an event snapshot.
type onroadEvent struct {
	Name events.Name `json:"name"`
}

// controlsInitializing reports whether the upstream event snapshot still
// lists controlsInitializing. ok is false when the snapshot is neither a
// list of names nor a list of {name} objects.
func controlsInitializing(payload any) (initializing, ok bool) {
	if names, err := messaging.DecodePayload[[]events.Name](payload); err == nil {
		return events.Contains(names, events.ControlsInitializing), true
	}
	entries, err := messaging.DecodePayload[[]onroadEvent](payload)
	if err != nil {
		return false, false
	}
	for _, e := range entries {
		if e.Name == "" {
			return false, false
		}
		if e.Name == events.ControlsInitializing {
			initializing = true
		}
	}
	return initializing, true
}

// busHandle gives Init raw access to the loop's receive queue and the
// transmitter.
type busHandle struct {
	rx Receiver
	tx Sender
}

func (b busHandle) Send(frames []can.Frame) { b.tx.Transmit(frames) }

func (b busHandle) Receive(ctx context.Context, blocking bool) []can.Batch {
	return b.rx.Receive(ctx, blocking)
}
