package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/messaging"
	"github.com/banshee-data/canbridge/internal/mode"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/params"
	"github.com/banshee-data/canbridge/internal/realtime"
	"github.com/banshee-data/canbridge/internal/secoc"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// Defaults for Config fields left zero.
const (
	DefaultRateHz         = 100
	DefaultStartupTimeout = 10 * time.Second

	// fingerprintReceives is how many receives after the first batch feed
	// the fingerprint.
	fingerprintReceives = 25

	// startupPoll is how often startup re-checks for upstream topics.
	startupPoll = 10 * time.Millisecond
)

// ParamStore is the blocking side of the params store, used at startup
// and for toggle reloads.
type ParamStore interface {
	Get(key string) ([]byte, bool, error)
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string, def int) int
	Put(key string, value []byte) error
}

// ParamWriter queues params writes without blocking.
type ParamWriter interface {
	PutNonBlocking(key string, value []byte) bool
	PutBoolNonBlocking(key string, v bool) bool
}

// keyImporter is implemented by stores that can pick up a user supplied
// SecOC key file.
type keyImporter interface {
	ImportUserSecOCKey(cacheDir string) (bool, error)
}

// Config wires a Car to its surroundings.
type Config struct {
	// Fingerprint is the platform model to run.
	Fingerprint string
	Hub         *messaging.Hub
	Receiver    Receiver
	Sender      Sender
	Store       ParamStore
	Writer      ParamWriter
	Clock       timeutil.Clock

	RateHz            float64
	LagPrintThreshold time.Duration
	// StartupTimeout bounds the wait for the first CAN batch and the
	// first pandaStates. Running out is logged, not fatal.
	StartupTimeout time.Duration
	CacheDir       string
	// Replay takes the control timestamp from the received batches
	// instead of the clock.
	Replay bool

	// Interface skips waiting for the bus and resolving the platform.
	Interface car.Interface
}

// New waits for the vehicle link, resolves the platform, applies the
// stored settings to its parameters and writes them back to the store.
func New(ctx context.Context, cfg Config) (*Car, error) {
	if cfg.Hub == nil || cfg.Receiver == nil || cfg.Sender == nil || cfg.Store == nil || cfg.Writer == nil {
		return nil, errors.New("card: hub, receiver, sender, store and writer are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = DefaultRateHz
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}

	c := &Car{
		rx:      cfg.Receiver,
		tx:      cfg.Sender,
		clock:   cfg.Clock,
		store:   cfg.Store,
		replay:  cfg.Replay,
		initCtx: ctx,
		sm: messaging.NewSubMaster(cfg.Hub, cfg.Clock,
			messaging.TopicPandaStates,
			messaging.TopicCarControl,
			messaging.TopicLiveCalibration,
			messaging.TopicOnroadEvents,
			messaging.TopicFrogpilotPlan,
		),
		pm: messaging.NewPubMaster(cfg.Hub, cfg.Clock),
	}

	ci := cfg.Interface
	if ci == nil {
		monitoring.Logf("[card] waiting for CAN messages")
		fp := c.waitForCAN(ctx, cfg.StartupTimeout)
		c.waitForPandaStates(ctx, cfg.StartupTimeout)

		var err error
		ci, err = car.New(cfg.Fingerprint, car.Options{
			ExperimentalLongitudinal: cfg.Store.GetBool(params.ExperimentalLongitudinalEnabled),
			Fingerprint:              fp,
			Hub:                      cfg.Hub,
			Clock:                    cfg.Clock,
		})
		if err != nil {
			c.sm.Close()
			return nil, fmt.Errorf("card: resolve platform: %w", err)
		}
	}
	c.ci = ci
	c.params = ci.Params()
	c.ext = ci.ExtendedParams()

	// alternative experiences from params
	c.disengageOnAccelerator = cfg.Store.GetBool(params.DisengageOnAccelerator)
	c.params.AlternativeExperience = 0
	if !c.disengageOnAccelerator {
		c.params.AlternativeExperience |= car.DisableDisengageOnGas
	}

	openpilotEnabled := cfg.Store.GetBool(params.OpenpilotEnabledToggle)
	controllerAvailable := ci.HasController() && openpilotEnabled && !c.params.DashcamOnly
	c.params.Passive = !controllerAvailable || c.params.DashcamOnly
	if c.params.Passive {
		c.params.SafetyConfigs = car.NoOutputSafety
	}

	if c.params.SecOCRequired {
		c.loadSecOCKey(cfg.Store, cfg.CacheDir)
	}

	// Carry the previous route's parameters forward.
	if prev, ok, err := cfg.Store.Get(params.CarParamsPersistent); err == nil && ok {
		cfg.Writer.PutNonBlocking(params.CarParamsPrevRoute, prev)
	}

	c.rk = realtime.NewRatekeeper(cfg.RateHz, cfg.LagPrintThreshold, cfg.Clock)

	c.toggles = config.LoadToggles(cfg.Store)
	if c.toggles.AccelerationProfile == config.AccelerationProfileSport {
		c.params.AlternativeExperience |= car.RaiseLongitudinalLimitsToISOMax
	}
	if c.toggles.AlwaysOnLateral {
		c.params.AlternativeExperience |= car.AlwaysOnLateral | car.DisableDisengageOnGas
	}

	if err := c.persistParams(cfg.Store, cfg.Writer); err != nil {
		c.sm.Close()
		return nil, err
	}

	bus := busHandle{rx: cfg.Receiver, tx: cfg.Sender}
	c.mode = mode.NewController(mode.Startup{
		HasController:    ci.HasController(),
		DashcamOnly:      c.params.DashcamOnly,
		OpenpilotEnabled: openpilotEnabled,
	}, mode.Hooks{
		Init: func() error { return c.ci.Init(c.initCtx, c.params, bus) },
		// tells the safety gateway to switch to the car's safety model
		Ready: func() { cfg.Writer.PutBoolNonBlocking(params.ControlsReady, true) },
	})
	monitoring.Logf("[card] %s (%s) passive=%t safety=%v", c.params.CarModel, c.params.CarName,
		c.params.Passive, c.params.SafetyConfigs)
	return c, nil
}

// Close releases the loop's subscriptions.
func (c *Car) Close() {
	c.sm.Close()
}

// waitForCAN blocks until a batch arrives, then collects the addresses
// seen over the next few receives into a fingerprint.
func (c *Car) waitForCAN(ctx context.Context, timeout time.Duration) car.Fingerprint {
	fp := car.Fingerprint{}
	start := c.clock.Now()
	for {
		if ctx.Err() != nil {
			return fp
		}
		if batches := c.rx.Receive(ctx, true); len(batches) > 0 {
			fp.Collect(batches)
			break
		}
		if c.clock.Since(start) > timeout {
			monitoring.Warnf("[card] no CAN messages after %v, continuing without a fingerprint", timeout)
			return fp
		}
	}
	for i := 0; i < fingerprintReceives && ctx.Err() == nil; i++ {
		fp.Collect(c.rx.Receive(ctx, true))
	}
	return fp
}

func (c *Car) waitForPandaStates(ctx context.Context, timeout time.Duration) {
	start := c.clock.Now()
	for ctx.Err() == nil {
		c.sm.Update()
		if c.sm.Seen(messaging.TopicPandaStates) {
			return
		}
		if c.clock.Since(start) > timeout {
			monitoring.Warnf("[card] no pandaStates after %v", timeout)
			return
		}
		c.clock.Sleep(startupPoll)
	}
}

// loadSecOCKey hands a stored key to the platform. A missing or malformed
// key leaves frame authentication off.
func (c *Car) loadSecOCKey(store ParamStore, cacheDir string) {
	if imp, ok := store.(keyImporter); ok {
		if _, err := imp.ImportUserSecOCKey(cacheDir); err != nil {
			monitoring.Warnf("[card] import user SecOC key: %v", err)
		}
	}
	stored := store.GetString(params.SecOCKey)
	if stored == "" {
		return
	}
	key, err := secoc.ParseKey(stored)
	if err != nil {
		monitoring.Warnf("[card] saved SecOC key is invalid: %v", err)
		return
	}
	c.params.SecOCKeyAvailable = true
	c.ci.SetSecOCKey(key)
}

func (c *Car) persistParams(store ParamStore, w ParamWriter) error {
	ext, err := json.Marshal(c.ext)
	if err != nil {
		return fmt.Errorf("card: encode extended params: %w", err)
	}
	if err := store.Put(params.ExtendedCarParamsPersistent, ext); err != nil {
		return fmt.Errorf("card: write extended params: %w", err)
	}
	cp, err := c.params.MarshalBinary()
	if err != nil {
		return fmt.Errorf("card: encode params: %w", err)
	}
	if err := store.Put(params.CarParams, cp); err != nil {
		return fmt.Errorf("card: write params: %w", err)
	}
	w.PutNonBlocking(params.CarParamsCache, cp)
	w.PutNonBlocking(params.CarParamsPersistent, cp)
	return nil
}
