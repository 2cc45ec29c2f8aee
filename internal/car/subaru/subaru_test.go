package subaru

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/events"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/units"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var testPacker = candb.NewPacker(globalDB)

func mkFrame(t *testing.T, bus uint8, msg string, vals map[string]float64) can.Frame {
	t.Helper()
	f, err := testPacker.Make(bus, msg, vals)
	require.NoError(t, err)
	return f
}

func batch(ts uint64, frames ...can.Frame) []can.Batch {
	return []can.Batch{{LogMonoTime: ts, Frames: frames, Valid: true}}
}

func newTestCar(t *testing.T, model string, opts car.Options) *CarInterface {
	t.Helper()
	if opts.Fingerprint == nil {
		opts.Fingerprint = car.Fingerprint{}
	}
	ci, err := New(model, opts)
	require.NoError(t, err)
	return ci
}

func TestTablesLoad(t *testing.T) {
	require.NotEmpty(t, Models())
	assert.NotEqual(t, globalDB.Name, preglobalDB.Name)
	for _, m := range []string{"ES_LKAS", "Wheel_Speeds", "Steering_Torque"} {
		g, ok := globalDB.Message(m)
		require.True(t, ok, m)
		p, ok := preglobalDB.Message(m)
		require.True(t, ok, m)
		assert.NotEqual(t, g.Address, p.Address, m)
	}
	_, err := loadCalibration([]byte("[[platform]]\nmodel = \"A\"\n[[platform]]\nmodel = \"A\"\n"))
	assert.Error(t, err, "duplicate model")
}

func TestRegistered(t *testing.T) {
	ci, err := car.New("SUBARU_IMPREZA", car.Options{})
	require.NoError(t, err)
	assert.Equal(t, "subaru", ci.Params().CarName)

	_, err = New("SUBARU_BRAT", car.Options{})
	assert.True(t, errors.Is(err, car.ErrUnknownPlatform))
}

func TestGetParams(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		opts     car.Options
		dashcam  bool
		expAvail bool
		opLong   bool
		safety   car.SafetyModel
		param    uint32
		delay    float64
	}{
		{name: "global", model: "SUBARU_IMPREZA", expAvail: true, safety: car.SafetySubaru, delay: 0.4},
		{
			name: "global experimental long", model: "SUBARU_FORESTER",
			opts:     car.Options{ExperimentalLongitudinal: true},
			expAvail: true, opLong: true, safety: car.SafetySubaru, param: SafetyParamLong, delay: 0.1,
		},
		{
			name: "gen2 never offers long", model: "SUBARU_OUTBACK",
			opts:   car.Options{ExperimentalLongitudinal: true},
			safety: car.SafetySubaru, param: SafetyParamGen2, delay: 0.1,
		},
		{name: "hybrid is dashcam", model: "SUBARU_CROSSTREK_HYBRID", dashcam: true, safety: car.SafetySubaru, delay: 0.1},
		{name: "angle is dashcam", model: "SUBARU_FORESTER_2022", dashcam: true, safety: car.SafetySubaru, delay: 0.1},
		{name: "preglobal", model: "SUBARU_LEGACY_PREGLOBAL", safety: car.SafetySubaruPreglobal, delay: 0.15},
		{
			name: "preglobal reversed torque", model: "SUBARU_OUTBACK_PREGLOBAL_2018",
			safety: car.SafetySubaruPreglobal, param: SafetyParamPreglobalReversedTorque, delay: 0.1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestCar(t, tt.model, tt.opts).Params()
			assert.Equal(t, tt.dashcam, p.DashcamOnly, "dashcamOnly")
			assert.Equal(t, tt.expAvail, p.ExperimentalLongitudinalAvailable, "experimental available")
			assert.Equal(t, tt.opLong, p.OpenpilotLongitudinalControl, "openpilot long")
			assert.Equal(t, tt.opLong, p.StoppingControl, "stopping control")
			require.Len(t, p.SafetyConfigs, 1)
			assert.Equal(t, tt.safety, p.SafetyConfigs[0].Model)
			assert.Equal(t, tt.param, p.SafetyConfigs[0].Param)
			assert.InDelta(t, tt.delay, p.SteerActuatorDelay, 1e-9)
			assert.False(t, p.HasFlag(FlagDisableEyesight))
		})
	}
}

func TestFingerprintFeatures(t *testing.T) {
	fp := car.Fingerprint{
		BusMain:   {bsmAddr: 8, bsmAddrPreglobal: 8},
		BusCamera: {infotainmentAddr: 8},
	}
	p := newTestCar(t, "SUBARU_ASCENT", car.Options{Fingerprint: fp}).Params()
	assert.True(t, p.EnableBSM)
	assert.True(t, p.HasFlag(FlagSendInfotainment))

	pre := newTestCar(t, "SUBARU_OUTBACK_PREGLOBAL", car.Options{Fingerprint: fp}).Params()
	assert.True(t, pre.EnableBSM)
	assert.False(t, pre.HasFlag(FlagSendInfotainment), "pre-global cars never forward infotainment")

	bare := newTestCar(t, "SUBARU_ASCENT", car.Options{Fingerprint: car.Fingerprint{BusMain: {bsmAddrPreglobal: 8}}}).Params()
	assert.False(t, bare.EnableBSM, "global cars read BSM at 0x228")
}

func TestDecode(t *testing.T) {
	ci := newTestCar(t, "SUBARU_IMPREZA", car.Options{})
	frames := []can.Frame{
		mkFrame(t, BusMain, "Wheel_Speeds", map[string]float64{"FL": 36, "FR": 36, "RL": 36, "RR": 36}),
		mkFrame(t, BusMain, "Transmission", map[string]float64{"Gear": 1}),
		mkFrame(t, BusMain, "Throttle", map[string]float64{"Throttle_Pedal": 51}),
		mkFrame(t, BusMain, "Brake_Status", map[string]float64{"Brake": 0}),
		mkFrame(t, BusMain, "Steering_Torque", map[string]float64{"Steer_Torque_Sensor": -120}),
		mkFrame(t, BusMain, "CruiseControl", map[string]float64{"Cruise_On": 1, "Cruise_Activated": 1}),
		mkFrame(t, BusMain, "BodyInfo", map[string]float64{"DOOR_OPEN_RL": 1}),
		mkFrame(t, BusCamera, "ES_DashStatus", map[string]float64{"Cruise_Set_Speed": 80}),
	}
	cs, _ := ci.DecodeState(batch(1, frames...), car.CarControl{}, config.Toggles{})

	assert.InDelta(t, 36*units.KPHToMS, cs.VEgoRaw, 0.03)
	assert.False(t, cs.Standstill)
	assert.Equal(t, car.GearDrive, cs.GearShifter)
	assert.InDelta(t, 0.2, cs.Gas, 1e-9)
	assert.True(t, cs.GasPressed)
	assert.False(t, cs.BrakePressed)
	assert.Equal(t, -120.0, cs.SteeringTorque)
	assert.True(t, cs.SteeringPressed)
	assert.True(t, cs.CruiseState.Available)
	assert.True(t, cs.CruiseState.Enabled)
	assert.InDelta(t, 80*units.KPHToMS, cs.CruiseState.Speed, 1e-9)
	assert.True(t, cs.DoorOpen)
	assert.Contains(t, cs.Events, events.DoorOpen)
}

func TestDecodeWithoutFramesIsInvalid(t *testing.T) {
	ci := newTestCar(t, "SUBARU_IMPREZA", car.Options{})
	cs, ext := ci.DecodeState(nil, car.CarControl{}, config.Toggles{})
	assert.False(t, cs.CanValid)
	assert.False(t, ext.CanValid)
	assert.True(t, cs.Standstill)
}

func TestLKASButtonEvents(t *testing.T) {
	ci := newTestCar(t, "SUBARU_IMPREZA", car.Options{})
	dash := func(v float64) []can.Batch {
		return batch(1, mkFrame(t, BusCamera, "ES_LKAS_State", map[string]float64{"LKAS_Dash_State": v}))
	}

	_, ext := ci.DecodeState(dash(1), car.CarControl{}, config.Toggles{})
	assert.True(t, ext.LKASEnabled)
	assert.Equal(t, []car.ButtonEvent{{Type: car.ButtonLKAS, Pressed: true}}, ext.ButtonEvents)

	_, ext = ci.DecodeState(dash(1), car.CarControl{}, config.Toggles{})
	assert.Empty(t, ext.ButtonEvents)

	_, ext = ci.DecodeState(dash(0), car.CarControl{}, config.Toggles{})
	assert.False(t, ext.LKASEnabled)
	assert.Equal(t, []car.ButtonEvent{{Type: car.ButtonLKAS, Pressed: false}}, ext.ButtonEvents)
}

func TestSteeringCommand(t *testing.T) {
	ci := newTestCar(t, "SUBARU_IMPREZA", car.Options{})
	ci.DecodeState(nil, car.CarControl{}, config.Toggles{})

	cc := car.CarControl{Enabled: true, LatActive: true, Actuators: car.Actuators{Steer: 1}}
	act, frames := ci.ApplyControl(cc, 0, config.Toggles{})
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, BusMain, f.Bus)
	assert.Equal(t, uint32(0x122), f.Address)
	assert.Equal(t, checksum(f), int(f.Data[0]), "checksum byte")

	p, err := candb.NewParser(globalDB, BusMain, []candb.MessageSpec{{Name: "ES_LKAS"}})
	require.NoError(t, err)
	p.Update(batch(1, f))
	assert.Equal(t, 50.0, p.Value("ES_LKAS", "LKAS_Output"), "first step is rate limited")
	assert.Equal(t, 1.0, p.Value("ES_LKAS", "LKAS_Request"))
	assert.Equal(t, 50.0, act.SteerOutputCAN)

	// ES_LKAS goes out every other cycle.
	_, frames = ci.ApplyControl(cc, 0, config.Toggles{})
	assert.Empty(t, frames)
	_, frames = ci.ApplyControl(cc, 0, config.Toggles{})
	require.Len(t, frames, 1)
	p.Update(batch(2, frames[0]))
	assert.Equal(t, 100.0, p.Value("ES_LKAS", "LKAS_Output"))
	assert.Equal(t, 1.0, p.Value("ES_LKAS", "Counter"))

	act, frames = ci.ApplyControl(car.CarControl{}, 0, config.Toggles{})
	assert.Empty(t, frames)
	act, frames = ci.ApplyControl(car.CarControl{}, 0, config.Toggles{})
	require.Len(t, frames, 1)
	assert.Zero(t, act.SteerOutputCAN, "inactive lateral sends zero")
}

func TestAngleCarsSendNothing(t *testing.T) {
	ci := newTestCar(t, "SUBARU_FORESTER_2022", car.Options{})
	_, frames := ci.ApplyControl(car.CarControl{LatActive: true, Actuators: car.Actuators{Steer: 1}}, 0, config.Toggles{})
	assert.Empty(t, frames)
}

type fakeBus struct {
	sent    []can.Frame
	pending []can.Frame
}

func (b *fakeBus) Send(frames []can.Frame) {
	for _, f := range frames {
		b.sent = append(b.sent, f)
		if f.Data[1] == 0x10 {
			b.pending = append(b.pending, can.Frame{Bus: f.Bus, Address: f.Address + 8, Data: []byte{0x02, 0x50, 0x03, 0, 0, 0, 0, 0}})
		}
	}
}

func (b *fakeBus) Receive(context.Context, bool) []can.Batch {
	if len(b.pending) == 0 {
		return nil
	}
	out := []can.Batch{{Frames: b.pending}}
	b.pending = nil
	return out
}

func TestInitDisablesEyesight(t *testing.T) {
	ci := newTestCar(t, "SUBARU_OUTBACK", car.Options{})
	bus := &fakeBus{}
	require.NoError(t, ci.Init(context.Background(), ci.Params(), bus))
	assert.Empty(t, bus.sent, "eyesight left alone without the flag")

	params := ci.Params()
	params.Flags |= FlagDisableEyesight
	require.NoError(t, ci.Init(context.Background(), params, bus))
	require.Len(t, bus.sent, 2)
	last := bus.sent[1]
	assert.Equal(t, BusCamera, last.Bus)
	assert.Equal(t, eyesightAddr, last.Address)
	assert.Equal(t, []byte{0x03, 0x28, 0x03, 0x01}, last.Data[:4])
}
