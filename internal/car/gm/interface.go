package gm

import (
	"context"
	"fmt"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/events"
	"github.com/banshee-data/canbridge/internal/units"
)

// Engagement speeds.
const (
	cameraMinEnableSpeed  = 5 * units.KPHToMS
	cameraMinSteerSpeed   = 10 * units.KPHToMS
	gatewayMinEnableSpeed = 18 * units.MPHToMS
	gatewayMinSteerSpeed  = 7 * units.MPHToMS

	// Enabling at a stop is allowed with the brake held this hard.
	standstillEnableBrake = 20
)

var extraGears = []car.GearShifter{car.GearSport, car.GearLow, car.GearEco, car.GearManumatic}

// CarInterface is the GM platform.
type CarInterface struct {
	params  car.CarParams
	ext     car.ExtendedParams
	msgs    map[uint8][]candb.MessageSpec
	parsers car.Parsers
	cs      *carState
	cc      *carController
}

// New builds the interface for a GM model.
func New(model string, opts car.Options) (*CarInterface, error) {
	plat, ok := calib.byModel[model]
	if !ok {
		return nil, fmt.Errorf("gm: %w: %s", car.ErrUnknownPlatform, model)
	}
	params := getParams(model, plat, opts)
	msgs := parserMessages(params)
	parsers, err := car.NewParsers(globalA, msgs)
	if err != nil {
		return nil, fmt.Errorf("gm: parsers: %w", err)
	}
	return &CarInterface{
		params: params,
		ext: car.ExtendedParams{
			CanUsePedal: params.EnableGasInterceptor,
			CanUseSDGM:  plat.SDGM,
		},
		msgs:    msgs,
		parsers: parsers,
		cs:      newCarState(params, calib),
		cc:      newCarController(params, newControlParams(params, calib, plat)),
	}, nil
}

func factory(model string, opts car.Options) (car.Interface, error) {
	ci, err := New(model, opts)
	if err != nil {
		return nil, err
	}
	return ci, nil
}

func getParams(model string, plat *platformCalibration, opts car.Options) car.CarParams {
	fp := opts.Fingerprint
	p := car.CarParams{
		CarName:            "gm",
		CarModel:           model,
		Flags:              plat.flags(),
		SafetyConfigs:      []car.SafetyConfig{{Model: car.SafetyGM}},
		TransmissionType:   car.TransmissionAutomatic,
		SteerControlType:   car.SteerTorque,
		Mass:               plat.Mass,
		Wheelbase:          plat.Wheelbase,
		CenterToFront:      plat.Wheelbase * plat.CenterToFrontRatio,
		SteerRatio:         plat.SteerRatio,
		SteerActuatorDelay: plat.SteerActuatorDelay,
		SteerLimitTimer:    0.4,
		WheelSpeedFactor:   plat.WheelSpeedFactor,
	}

	bodyBus := BusPowertrain
	if plat.SDGM {
		bodyBus = BusCamera
	}
	p.EnableBSM = fp.Has(bodyBus, bsmAddr)
	if fp.Has(BusPowertrain, gasSensorAddr) {
		p.EnableGasInterceptor = true
		p.SafetyConfigs[0].Param |= SafetyParamGasInterceptor
	}
	if plat.EV {
		p.TransmissionType = car.TransmissionDirect
	}

	if plat.CameraACC || plat.SDGM {
		p.ExperimentalLongitudinalAvailable = !plat.CCOnly && !plat.SDGM
		p.NetworkLocation = car.NetworkFwdCamera
		p.RadarUnavailable = true
		p.PCMCruise = true
		p.SafetyConfigs[0].Param |= SafetyParamHWCam
		p.MinEnableSpeed = cameraMinEnableSpeed
		p.MinSteerSpeed = cameraMinSteerSpeed
		if opts.ExperimentalLongitudinal && p.ExperimentalLongitudinalAvailable {
			p.PCMCruise = false
			p.OpenpilotLongitudinalControl = true
			p.SafetyConfigs[0].Param |= SafetyParamHWCamLong
		}
	} else {
		p.NetworkLocation = car.NetworkGateway
		p.OpenpilotLongitudinalControl = true
		p.RadarUnavailable = !fp.Has(BusObstacle, radarHeaderAddr)
		// stock non-adaptive cruise stays off
		p.MinEnableSpeed = gatewayMinEnableSpeed
		p.MinSteerSpeed = gatewayMinSteerSpeed
	}

	if p.EnableGasInterceptor {
		p.MinEnableSpeed = -1
		p.PCMCruise = false
		p.OpenpilotLongitudinalControl = true
		p.StoppingControl = true
		p.AutoResumeSng = true
	}
	return p
}

// Params implements car.Interface.
func (ci *CarInterface) Params() car.CarParams { return ci.params }

// ExtendedParams implements car.Interface.
func (ci *CarInterface) ExtendedParams() car.ExtendedParams { return ci.ext }

// SubscriptionSpec implements car.Interface.
func (ci *CarInterface) SubscriptionSpec() []car.Subscription {
	return car.Subscriptions(globalA, ci.msgs)
}

// DecodeState implements car.Interface.
func (ci *CarInterface) DecodeState(batches []can.Batch, _ car.CarControl, _ config.Toggles) (car.CarState, car.ExtendedState) {
	ci.parsers.Update(batches)
	cs := ci.cs
	ret, ext := cs.update(ci.parsers)
	ret.CanValid = ci.parsers.CanValid()
	ext.CanValid = ret.CanValid
	ret.ButtonEvents = cs.buttonEvents()
	ext.ButtonEvents = cs.lkasButtonEvents()

	// The ECM engages on the falling edge of set but the rising edge of
	// resume.
	var ev events.Set
	ev.AddAll(cs.Events.CreateCommonEvents(ret, cs.Out, ci.params, car.CommonEventOptions{
		ExtraGears:    extraGears,
		PCMEnable:     ci.params.PCMCruise,
		EnableButtons: []car.ButtonType{car.ButtonDecelCruise},
	}))
	if !ci.params.PCMCruise {
		for _, b := range ret.ButtonEvents {
			if b.Type == car.ButtonAccelCruise && b.Pressed {
				ev.Add(events.ButtonEnable)
			}
		}
	}

	belowMinEnable := ret.VEgo < ci.params.MinEnableSpeed || cs.movingBackward
	standstillWithBrake := ret.Standstill && ret.Brake >= standstillEnableBrake &&
		ci.params.NetworkLocation == car.NetworkFwdCamera
	if belowMinEnable && !standstillWithBrake {
		ev.Add(events.BelowEngageSpeed)
	}
	if ret.CruiseState.Standstill {
		ev.Add(events.ResumeRequired)
	}
	if ret.VEgo < ci.params.MinSteerSpeed {
		ev.Add(events.BelowSteerSpeed)
	}
	ret.Events = ev.Names()

	cs.Out = ret
	return ret, ext
}

// ApplyControl implements car.Interface.
func (ci *CarInterface) ApplyControl(cc car.CarControl, nowNanos uint64, _ config.Toggles) (car.Actuators, []can.Frame) {
	return ci.cc.update(cc, ci.cs, nowNanos)
}

// Init implements car.Interface. GM needs no ECU setup.
func (ci *CarInterface) Init(context.Context, car.CarParams, car.BusHandle) error { return nil }

// HasController implements car.Interface.
func (ci *CarInterface) HasController() bool { return true }

// SetSecOCKey implements car.Interface. GM frames are not authenticated.
func (ci *CarInterface) SetSecOCKey(key []byte) {
	ci.params.SecOCKeyAvailable = len(key) > 0
}
