package subaru

import (
	"context"
	"fmt"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/events"
)

const defaultSteerActuatorDelay = 0.1

// CarInterface is the Subaru platform.
type CarInterface struct {
	params  car.CarParams
	ext     car.ExtendedParams
	msgs    map[uint8][]candb.MessageSpec
	parsers car.Parsers
	cs      *carState
	cc      *carController
}

// New builds the interface for a Subaru model.
func New(model string, opts car.Options) (*CarInterface, error) {
	plat, ok := calib.byModel[model]
	if !ok {
		return nil, fmt.Errorf("subaru: %w: %s", car.ErrUnknownPlatform, model)
	}
	params := getParams(model, plat, opts)
	msgs := parserMessages(params)
	parsers, err := car.NewParsers(database(params), msgs)
	if err != nil {
		return nil, fmt.Errorf("subaru: parsers: %w", err)
	}
	steer := calib.steer(plat)
	return &CarInterface{
		params:  params,
		ext:     car.ExtendedParams{IsHybrid: plat.Hybrid},
		msgs:    msgs,
		parsers: parsers,
		cs:      newCarState(params, steer),
		cc:      newCarController(params, steer),
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
		CarName:            "subaru",
		CarModel:           model,
		Flags:              plat.flags(),
		TransmissionType:   car.TransmissionAutomatic,
		SteerControlType:   car.SteerTorque,
		RadarUnavailable:   true,
		PCMCruise:          true,
		Mass:               plat.Mass,
		Wheelbase:          plat.Wheelbase,
		CenterToFront:      plat.Wheelbase * 0.5,
		SteerRatio:         plat.SteerRatio,
		SteerActuatorDelay: defaultSteerActuatorDelay,
		SteerLimitTimer:    0.4,
	}
	if plat.SteerActuatorDelay > 0 {
		p.SteerActuatorDelay = plat.SteerActuatorDelay
	}

	// Hybrids need a cancel path and cruise bit that are not mapped yet.
	p.DashcamOnly = plat.LKASAngle || plat.Hybrid
	if plat.LKASAngle {
		p.SteerControlType = car.SteerAngle
	}

	if !plat.Preglobal && fp.Has(BusCamera, infotainmentAddr) {
		p.Flags |= FlagSendInfotainment
	}

	if plat.Preglobal {
		p.EnableBSM = fp.Has(BusMain, bsmAddrPreglobal)
		p.SafetyConfigs = []car.SafetyConfig{{Model: car.SafetySubaruPreglobal}}
		// Outback 2018-2019 and Forester report driver torque reversed.
		if plat.ReversedDriverTorque {
			p.SafetyConfigs[0].Param = SafetyParamPreglobalReversedTorque
		}
	} else {
		p.EnableBSM = fp.Has(BusMain, bsmAddr)
		p.SafetyConfigs = []car.SafetyConfig{{Model: car.SafetySubaru}}
		if plat.Gen2 {
			p.SafetyConfigs[0].Param |= SafetyParamGen2
		}
	}

	p.ExperimentalLongitudinalAvailable = !(plat.Gen2 || plat.Preglobal || plat.LKASAngle || plat.Hybrid)
	p.OpenpilotLongitudinalControl = opts.ExperimentalLongitudinal && p.ExperimentalLongitudinalAvailable

	if plat.Gen2 && p.OpenpilotLongitudinalControl {
		p.Flags |= FlagDisableEyesight
	}
	if p.OpenpilotLongitudinalControl {
		p.StoppingControl = true
		p.SafetyConfigs[0].Param |= SafetyParamLong
	}
	return p
}

// Params implements car.Interface.
func (ci *CarInterface) Params() car.CarParams { return ci.params }

// ExtendedParams implements car.Interface.
func (ci *CarInterface) ExtendedParams() car.ExtendedParams { return ci.ext }

// SubscriptionSpec implements car.Interface.
func (ci *CarInterface) SubscriptionSpec() []car.Subscription {
	return car.Subscriptions(database(ci.params), ci.msgs)
}

// DecodeState implements car.Interface.
func (ci *CarInterface) DecodeState(batches []can.Batch, _ car.CarControl, _ config.Toggles) (car.CarState, car.ExtendedState) {
	ci.parsers.Update(batches)
	cs := ci.cs
	ret, ext := cs.update(ci.parsers)
	ret.CanValid = ci.parsers.CanValid()
	ext.CanValid = ret.CanValid
	ext.ButtonEvents = cs.lkasButtonEvents()

	var ev events.Set
	ev.AddAll(cs.Events.CreateCommonEvents(ret, cs.Out, ci.params, car.CommonEventOptions{
		PCMEnable: ci.params.PCMCruise,
	}))
	ret.Events = ev.Names()

	cs.Out = ret
	return ret, ext
}

// ApplyControl implements car.Interface.
func (ci *CarInterface) ApplyControl(cc car.CarControl, _ uint64, _ config.Toggles) (car.Actuators, []can.Frame) {
	return ci.cc.update(cc, ci.cs)
}

// Init implements car.Interface. With openpilot longitudinal on a Gen2
// car the EyeSight camera is silenced so it stops commanding the brakes.
func (ci *CarInterface) Init(ctx context.Context, params car.CarParams, bus car.BusHandle) error {
	if !params.HasFlag(FlagDisableEyesight) {
		return nil
	}
	if err := car.DisableECU(ctx, bus, BusCamera, eyesightAddr, eyesightComContReq); err != nil {
		return fmt.Errorf("subaru: disable eyesight: %w", err)
	}
	return nil
}

// HasController implements car.Interface.
func (ci *CarInterface) HasController() bool { return true }

// SetSecOCKey implements car.Interface. Subaru frames are not authenticated.
func (ci *CarInterface) SetSecOCKey(key []byte) {
	ci.params.SecOCKeyAvailable = len(key) > 0
}
