package card

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/car/mock"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/events"
	"github.com/banshee-data/canbridge/internal/messaging"
	"github.com/banshee-data/canbridge/internal/mode"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/params"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

const validKey = "00112233445566778899aabbccddeeff"

// fakeCar scripts decoded states and records what the loop asks of it.
type fakeCar struct {
	params     car.CarParams
	controller bool
	states     []car.CarState
	initErr    error

	decodes      int
	decodeTogs   []config.Toggles
	applied      []car.CarControl
	appliedNanos []uint64
	initCalls    int
	secocKey     []byte
}

func (f *fakeCar) Params() car.CarParams                { return f.params }
func (f *fakeCar) ExtendedParams() car.ExtendedParams   { return car.ExtendedParams{IsHybrid: true} }
func (f *fakeCar) SubscriptionSpec() []car.Subscription { return nil }
func (f *fakeCar) HasController() bool                  { return f.controller }
func (f *fakeCar) SetSecOCKey(key []byte)               { f.secocKey = key }

func (f *fakeCar) DecodeState(batches []can.Batch, _ car.CarControl, tg config.Toggles) (car.CarState, car.ExtendedState) {
	var cs car.CarState
	if len(f.states) > 0 {
		i := f.decodes
		if i >= len(f.states) {
			i = len(f.states) - 1
		}
		cs = f.states[i]
	}
	f.decodes++
	f.decodeTogs = append(f.decodeTogs, tg)
	cs.CanValid = true
	return cs, car.ExtendedState{CanValid: true}
}

// ApplyControl halves the steering request so the reported output differs
// from the request.
func (f *fakeCar) ApplyControl(cc car.CarControl, nowNanos uint64, _ config.Toggles) (car.Actuators, []can.Frame) {
	f.applied = append(f.applied, cc)
	f.appliedNanos = append(f.appliedNanos, nowNanos)
	out := cc.Actuators
	out.Steer = cc.Actuators.Steer / 2
	return out, []can.Frame{{Bus: 0, Address: 0x180, Data: []byte{byte(len(f.applied))}}}
}

func (f *fakeCar) Init(_ context.Context, _ car.CarParams, bus car.BusHandle) error {
	f.initCalls++
	bus.Send([]can.Frame{{Bus: 2, Address: 0x787, Data: []byte{0x28}}})
	return f.initErr
}

type fakeReceiver struct {
	clock  *timeutil.MockClock
	queue  [][]can.Batch
	idle   time.Duration
	calls  int
	onCall func(n int)
}

func (r *fakeReceiver) Receive(_ context.Context, _ bool) []can.Batch {
	r.calls++
	if r.onCall != nil {
		r.onCall(r.calls)
	}
	if len(r.queue) == 0 {
		if r.idle > 0 {
			r.clock.Advance(r.idle)
		}
		return nil
	}
	b := r.queue[0]
	r.queue = r.queue[1:]
	return b
}

type fakeSender struct {
	sets [][]can.Frame
}

func (s *fakeSender) Transmit(frames []can.Frame) {
	if len(frames) == 0 {
		return
	}
	s.sets = append(s.sets, frames)
}

type fakeWriter struct {
	mu     sync.Mutex
	writes map[string][]byte
}

func (w *fakeWriter) PutNonBlocking(key string, value []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writes == nil {
		w.writes = make(map[string][]byte)
	}
	w.writes[key] = value
	return true
}

func (w *fakeWriter) PutBoolNonBlocking(key string, v bool) bool {
	if v {
		return w.PutNonBlocking(key, []byte("1"))
	}
	return w.PutNonBlocking(key, []byte("0"))
}

func (w *fakeWriter) get(key string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.writes[key]
	return v, ok
}

type harness struct {
	t      *testing.T
	hub    *messaging.Hub
	clock  *timeutil.MockClock
	store  *params.Store
	writer *fakeWriter
	rx     *fakeReceiver
	tx     *fakeSender
	ci     *fakeCar
	pub    *messaging.PubMaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := params.Open(filepath.Join(t.TempDir(), "params.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.PutBool(params.OpenpilotEnabledToggle, true))

	hub := messaging.NewHub()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	return &harness{
		t:      t,
		hub:    hub,
		clock:  clock,
		store:  store,
		writer: &fakeWriter{},
		rx:     &fakeReceiver{clock: clock},
		tx:     &fakeSender{},
		ci: &fakeCar{
			controller: true,
			params: car.CarParams{
				CarName:       "fake",
				CarModel:      "FAKE_CAR",
				SafetyConfigs: []car.SafetyConfig{{Model: car.SafetyGM}},
			},
		},
		pub: messaging.NewPubMaster(hub, clock),
	}
}

func (h *harness) config() Config {
	return Config{
		Hub:            h.hub,
		Receiver:       h.rx,
		Sender:         h.tx,
		Store:          h.store,
		Writer:         h.writer,
		Clock:          h.clock,
		StartupTimeout: 100 * time.Millisecond,
		Interface:      h.ci,
	}
}

func (h *harness) start() *Car {
	h.t.Helper()
	return h.startWith(h.config())
}

func (h *harness) startWith(cfg Config) *Car {
	h.t.Helper()
	c, err := New(context.Background(), cfg)
	require.NoError(h.t, err)
	h.t.Cleanup(c.Close)
	return c
}

func (h *harness) subscribe(topics ...string) *messaging.SubMaster {
	sm := messaging.NewSubMaster(h.hub, h.clock, topics...)
	h.t.Cleanup(sm.Close)
	return sm
}

func (h *harness) publishControl(cc car.CarControl) {
	h.pub.Send(messaging.TopicCarControl, cc, true)
}

// initialize publishes an empty event snapshot and steps once so the loop
// reaches ActiveInitialized.
func (h *harness) initialize(c *Car) {
	h.t.Helper()
	h.pub.Send(messaging.TopicOnroadEvents, []events.Name{}, true)
	c.Step(context.Background())
	require.Equal(h.t, mode.ActiveInitialized, c.Mode())
}

func TestCanTimeoutsCountEmptyCycles(t *testing.T) {
	h := newHarness(t)
	h.rx.queue = [][]can.Batch{{{LogMonoTime: 1, Valid: true}}}
	c := h.start()
	out := h.subscribe(messaging.TopicCarState)

	for i := 0; i < 6; i++ {
		c.Step(context.Background())
	}
	out.Update()

	assert.Equal(t, uint64(5), c.Status().CanTimeouts)
	cs, err := messaging.DecodePayload[car.CarState](out.Get(messaging.TopicCarState).Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cs.CanErrorCounter)
}

func TestPassiveNeverActuates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"no controller", func(h *harness) { h.ci.controller = false }},
		{"dashcam only", func(h *harness) { h.ci.params.DashcamOnly = true }},
		{"automated control disabled", func(h *harness) {
			require.NoError(h.t, h.store.PutBool(params.OpenpilotEnabledToggle, false))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			c := h.start()

			assert.True(t, c.Params().Passive)
			assert.Equal(t, car.NoOutputSafety, c.Params().SafetyConfigs)
			out := h.subscribe(messaging.TopicCarParams)

			h.pub.Send(messaging.TopicOnroadEvents, []events.Name{}, true)
			published := 0
			for i := 0; i < 1000; i++ {
				h.publishControl(car.CarControl{Enabled: true, LatActive: true, Actuators: car.Actuators{Steer: 1}})
				c.Step(context.Background())
				h.clock.Advance(10 * time.Millisecond)

				out.Update()
				if !out.Updated(messaging.TopicCarParams) {
					continue
				}
				published++
				cp, err := messaging.DecodePayload[car.CarParams](out.Get(messaging.TopicCarParams).Payload)
				require.NoError(t, err)
				assert.True(t, cp.Passive)
				assert.Equal(t, car.NoOutputSafety, cp.SafetyConfigs, "cycle %d", i)
			}
			assert.Equal(t, 1, published)

			assert.Equal(t, mode.Passive, c.Mode())
			assert.Empty(t, h.tx.sets)
			assert.Empty(t, h.ci.applied)
			assert.Zero(t, h.ci.initCalls)
			_, ready := h.writer.get(params.ControlsReady)
			assert.False(t, ready)
		})
	}
}

func TestInitRunsOnceAndSignalsReady(t *testing.T) {
	h := newHarness(t)
	c := h.start()

	c.Step(context.Background())
	assert.Equal(t, mode.ActiveUninitialized, c.Mode(), "no event snapshot yet")

	h.pub.Send(messaging.TopicOnroadEvents, []events.Name{events.ControlsInitializing}, true)
	c.Step(context.Background())
	assert.Equal(t, mode.ActiveUninitialized, c.Mode())
	assert.Zero(t, h.ci.initCalls)

	h.pub.Send(messaging.TopicOnroadEvents, []events.Name{}, true)
	for i := 0; i < 10; i++ {
		c.Step(context.Background())
	}
	assert.Equal(t, mode.ActiveInitialized, c.Mode())
	assert.Equal(t, 1, h.ci.initCalls)

	ready, ok := h.writer.get(params.ControlsReady)
	require.True(t, ok)
	assert.Equal(t, "1", string(ready))

	// Init talks to the bus through the loop's transmitter.
	require.Len(t, h.tx.sets, 1)
	assert.Equal(t, uint32(0x787), h.tx.sets[0][0].Address)
}

func TestUnreadableEventSnapshotHoldsInit(t *testing.T) {
	tests := []struct {
		name     string
		snapshot any
	}{
		{"object list still initializing", []map[string]any{{"name": string(events.ControlsInitializing)}}},
		{"bare name", string(events.ControlsInitializing)},
		{"nil", nil},
		{"objects without names", []map[string]any{{"type": "warning"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c := h.start()

			h.pub.Send(messaging.TopicOnroadEvents, tt.snapshot, true)
			for i := 0; i < 3; i++ {
				c.Step(context.Background())
			}

			assert.Equal(t, mode.ActiveUninitialized, c.Mode())
			assert.Zero(t, h.ci.initCalls)
			_, ready := h.writer.get(params.ControlsReady)
			assert.False(t, ready)
		})
	}
}

func TestObjectEventSnapshotInitializes(t *testing.T) {
	h := newHarness(t)
	c := h.start()

	h.pub.Send(messaging.TopicOnroadEvents, []map[string]any{{"name": string(events.DoorOpen)}}, true)
	c.Step(context.Background())

	assert.Equal(t, mode.ActiveInitialized, c.Mode())
	assert.Equal(t, 1, h.ci.initCalls)
}

func TestControlsInitializing(t *testing.T) {
	tests := []struct {
		name         string
		payload      any
		initializing bool
		ok           bool
	}{
		{"empty names", []events.Name{}, false, true},
		{"names", []events.Name{events.DoorOpen, events.ControlsInitializing}, true, true},
		{"generic names", []any{"controlsInitializing"}, true, true},
		{"objects", []any{map[string]any{"name": "doorOpen"}}, false, true},
		{"objects initializing", []any{map[string]any{"name": "controlsInitializing"}}, true, true},
		{"nil", nil, false, false},
		{"string", "controlsInitializing", false, false},
		{"number", 3.0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initializing, ok := controlsInitializing(tt.payload)
			assert.Equal(t, tt.initializing, initializing)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestInitErrorDoesNotBlockControl(t *testing.T) {
	h := newHarness(t)
	h.ci.initErr = assert.AnError
	c := h.start()
	h.initialize(c)

	h.publishControl(car.CarControl{LatActive: true})
	c.Step(context.Background())
	assert.Len(t, h.ci.applied, 1)
}

func TestFreshControlActuates(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	h.initialize(c)
	out := h.subscribe(messaging.TopicCarOutput, messaging.TopicSendCAN)

	h.publishControl(car.CarControl{Enabled: true, LatActive: true, Actuators: car.Actuators{Steer: 0.8}})
	c.Step(context.Background())

	require.Len(t, h.ci.applied, 1)
	require.Len(t, h.tx.sets, 1)
	assert.Equal(t, uint32(0x180), h.tx.sets[0][0].Address)
	assert.InDelta(t, 0.4, c.Status().Actuators.Steer, 1e-9)
	assert.Equal(t, uint64(1), c.Status().ActuatedCycles)

	out.Update()
	assert.True(t, out.Updated(messaging.TopicSendCAN))
	sent, err := messaging.DecodePayload[[]can.Frame](out.Get(messaging.TopicSendCAN).Payload)
	require.NoError(t, err)
	assert.Equal(t, h.tx.sets[0], sent)

	// carOutput reports what was encoded, not what was requested.
	h.publishControl(car.CarControl{Enabled: true, LatActive: true, Actuators: car.Actuators{Steer: 0.8}})
	c.Step(context.Background())
	out.Update()
	msg := out.Get(messaging.TopicCarOutput)
	assert.True(t, msg.Valid)
	co, err := messaging.DecodePayload[car.CarOutput](msg.Payload)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, co.ActuatorsOutput.Steer, 1e-9)
}

func TestStaleControlSendsNothing(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	h.initialize(c)
	out := h.subscribe(messaging.TopicCarOutput)

	h.publishControl(car.CarControl{LatActive: true, Actuators: car.Actuators{Steer: 0.6}})
	c.Step(context.Background())
	require.Len(t, h.tx.sets, 1)
	suppressed := c.Status().SuppressedCycle

	h.clock.Advance(200 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Step(context.Background())
	}

	assert.Len(t, h.tx.sets, 1)
	assert.Len(t, h.ci.applied, 1)
	st := c.Status()
	assert.Equal(t, suppressed+5, st.SuppressedCycle)
	assert.InDelta(t, 0.3, st.Actuators.Steer, 1e-9, "last encoded output is kept")

	out.Update()
	assert.False(t, out.Get(messaging.TopicCarOutput).Valid)
}

func TestControlNeverSeenSendsNothing(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	h.initialize(c)
	for i := 0; i < 20; i++ {
		c.Step(context.Background())
	}
	assert.Empty(t, h.tx.sets)
	assert.Empty(t, h.ci.applied)
}

func pedalEvents(t *testing.T, h *harness, states []car.CarState) [][]events.Name {
	t.Helper()
	h.ci.states = states
	c := h.start()
	var got [][]events.Name
	for range states {
		c.Step(context.Background())
		got = append(got, c.Status().CarState.Events)
	}
	return got
}

func TestPedalPressedOnEdgeOnly(t *testing.T) {
	h := newHarness(t)
	got := pedalEvents(t, h, []car.CarState{
		{},
		{BrakePressed: true},
		{BrakePressed: true},
		{BrakePressed: true, Events: []events.Name{events.DoorOpen}},
		{},
		{RegenBraking: true},
	})

	assert.NotContains(t, got[0], events.PedalPressed)
	assert.Contains(t, got[1], events.PedalPressed)
	assert.NotContains(t, got[2], events.PedalPressed)
	assert.Equal(t, []events.Name{events.DoorOpen}, got[3])
	assert.Empty(t, got[4])
	assert.Contains(t, got[5], events.PedalPressed)
}

func TestGasEdgeFollowsDisengageSetting(t *testing.T) {
	states := []car.CarState{{}, {GasPressed: true}}

	h := newHarness(t)
	got := pedalEvents(t, h, states)
	assert.NotContains(t, got[1], events.PedalPressed)

	h = newHarness(t)
	require.NoError(t, h.store.PutBool(params.DisengageOnAccelerator, true))
	got = pedalEvents(t, h, states)
	assert.Contains(t, got[1], events.PedalPressed)
}

func TestCarParamsCadence(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	out := h.subscribe(messaging.TopicCarParams)

	c.Step(context.Background())
	out.Update()
	require.True(t, out.Updated(messaging.TopicCarParams), "published on the first cycle")
	cp, err := messaging.DecodePayload[car.CarParams](out.Get(messaging.TopicCarParams).Payload)
	require.NoError(t, err)
	assert.Equal(t, "FAKE_CAR", cp.CarModel)

	for i := 1; i < carParamsInterval; i++ {
		c.Step(context.Background())
		out.Update()
	}
	assert.Equal(t, uint64(1), out.Count(messaging.TopicCarParams))

	c.Step(context.Background())
	out.Update()
	assert.Equal(t, uint64(2), out.Count(messaging.TopicCarParams))
}

func TestTogglesReloadOnPlannerChange(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	c.Step(context.Background())
	assert.Zero(t, c.Toggles().AccelerationProfile)

	require.NoError(t, h.store.Put(params.AccelerationProfile, []byte("3")))
	h.pub.Send(messaging.TopicFrogpilotPlan, messaging.FrogpilotPlan{}, true)
	c.Step(context.Background())
	assert.Zero(t, c.Toggles().AccelerationProfile, "plan without a toggle change")

	h.pub.Send(messaging.TopicFrogpilotPlan, messaging.FrogpilotPlan{TogglesUpdated: true}, true)
	c.Step(context.Background())
	assert.Equal(t, config.AccelerationProfileSport, c.Toggles().AccelerationProfile)

	c.Step(context.Background())
	last := h.ci.decodeTogs[len(h.ci.decodeTogs)-1]
	assert.Equal(t, config.AccelerationProfileSport, last.AccelerationProfile)
}

func TestControlTimestamp(t *testing.T) {
	t.Run("live", func(t *testing.T) {
		h := newHarness(t)
		c := h.start()
		h.initialize(c)
		h.publishControl(car.CarControl{})
		c.Step(context.Background())
		require.Len(t, h.ci.appliedNanos, 1)
		assert.Equal(t, timeutil.Nanos(h.clock), h.ci.appliedNanos[0])
	})
	t.Run("replay", func(t *testing.T) {
		h := newHarness(t)
		cfg := h.config()
		cfg.Replay = true
		c := h.startWith(cfg)
		h.initialize(c)
		h.rx.queue = [][]can.Batch{{{LogMonoTime: 12345}, {LogMonoTime: 12400}}}
		h.publishControl(car.CarControl{})
		c.Step(context.Background())
		require.Len(t, h.ci.appliedNanos, 1)
		assert.Equal(t, uint64(12345), h.ci.appliedNanos[0])
	})
}

func TestAlternativeExperience(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	assert.True(t, c.Params().AlternativeExperience.Has(car.DisableDisengageOnGas))
	assert.False(t, c.Params().AlternativeExperience.Has(car.RaiseLongitudinalLimitsToISOMax))

	h = newHarness(t)
	require.NoError(t, h.store.PutBool(params.DisengageOnAccelerator, true))
	require.NoError(t, h.store.Put(params.AccelerationProfile, []byte("3")))
	c = h.start()
	assert.False(t, c.Params().AlternativeExperience.Has(car.DisableDisengageOnGas))
	assert.True(t, c.Params().AlternativeExperience.Has(car.RaiseLongitudinalLimitsToISOMax))

	h = newHarness(t)
	require.NoError(t, h.store.PutBool(params.DisengageOnAccelerator, true))
	require.NoError(t, h.store.PutBool(params.AlwaysOnLateral, true))
	c = h.start()
	assert.True(t, c.Params().AlternativeExperience.Has(car.AlwaysOnLateral|car.DisableDisengageOnGas))
}

func TestSecOCKey(t *testing.T) {
	t.Run("valid stored key", func(t *testing.T) {
		h := newHarness(t)
		h.ci.params.SecOCRequired = true
		require.NoError(t, h.store.Put(params.SecOCKey, []byte(validKey)))
		c := h.start()
		assert.True(t, c.Params().SecOCKeyAvailable)
		assert.Len(t, h.ci.secocKey, 16)
	})
	t.Run("invalid stored key", func(t *testing.T) {
		h := newHarness(t)
		h.ci.params.SecOCRequired = true
		require.NoError(t, h.store.Put(params.SecOCKey, []byte("not-a-key")))
		c := h.start()
		assert.False(t, c.Params().SecOCKeyAvailable)
		assert.Nil(t, h.ci.secocKey)
	})
	t.Run("user key file", func(t *testing.T) {
		h := newHarness(t)
		h.ci.params.SecOCRequired = true
		cacheDir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "params"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "params", params.SecOCKey), []byte(validKey+"\n"), 0o644))
		cfg := h.config()
		cfg.CacheDir = cacheDir
		c := h.startWith(cfg)
		assert.True(t, c.Params().SecOCKeyAvailable)
		assert.Equal(t, validKey, h.store.GetString(params.SecOCKey))
	})
	t.Run("not required", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Put(params.SecOCKey, []byte(validKey)))
		c := h.start()
		assert.False(t, c.Params().SecOCKeyAvailable)
		assert.Nil(t, h.ci.secocKey)
	})
}

func TestParamsPersisted(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Put(params.CarParamsPersistent, []byte(`{"carFingerprint":"OLD_CAR"}`)))
	h.start()

	prev, ok := h.writer.get(params.CarParamsPrevRoute)
	require.True(t, ok)
	assert.JSONEq(t, `{"carFingerprint":"OLD_CAR"}`, string(prev))

	raw, ok, err := h.store.Get(params.CarParams)
	require.NoError(t, err)
	require.True(t, ok)
	var cp car.CarParams
	require.NoError(t, cp.UnmarshalBinary(raw))
	assert.Equal(t, "FAKE_CAR", cp.CarModel)

	for _, key := range []string{params.CarParamsCache, params.CarParamsPersistent} {
		v, ok := h.writer.get(key)
		require.True(t, ok, key)
		assert.Equal(t, raw, v, key)
	}

	raw, ok, err = h.store.Get(params.ExtendedCarParamsPersistent)
	require.NoError(t, err)
	require.True(t, ok)
	var ext car.ExtendedParams
	require.NoError(t, json.Unmarshal(raw, &ext))
	assert.True(t, ext.IsHybrid)
}

func TestNoPreviousRoute(t *testing.T) {
	h := newHarness(t)
	h.start()
	_, ok := h.writer.get(params.CarParamsPrevRoute)
	assert.False(t, ok)
}

func TestUnknownPlatform(t *testing.T) {
	h := newHarness(t)
	h.rx.idle = 20 * time.Millisecond
	cfg := h.config()
	cfg.Interface = nil
	cfg.Fingerprint = "NOT_A_CAR"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, car.ErrUnknownPlatform)
}

func TestResolvesRegisteredPlatform(t *testing.T) {
	h := newHarness(t)
	h.rx.queue = [][]can.Batch{{{LogMonoTime: 1, Frames: []can.Frame{{Bus: 0, Address: 0x1e9, Data: make([]byte, 8)}}}}}
	h.rx.onCall = func(n int) {
		if n == 1 {
			h.pub.Send(messaging.TopicPandaStates, []messaging.PandaState{{Bus: 0}}, true)
		}
	}
	cfg := h.config()
	cfg.Interface = nil
	cfg.Fingerprint = mock.Model

	c := h.startWith(cfg)
	assert.Equal(t, "mock", c.Params().CarName)
	assert.True(t, c.Params().Passive)
	assert.Equal(t, mode.Passive, c.Mode())
	assert.GreaterOrEqual(t, h.rx.calls, 1+fingerprintReceives)
}

func TestMissingDependencies(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	c := h.start()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.rx.onCall = func(n int) {
		if n == 50 {
			cancel()
		}
	}

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, c.Status().Frame, uint64(50))
	assert.NotEmpty(t, h.clock.Sleeps(), "the loop sleeps out each cycle")
}
