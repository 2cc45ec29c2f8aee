// Package mock is the platform used when no vehicle is connected. It
// never actuates; speed comes from GPS so the rest of the stack still sees
// the car move.
package mock

import (
	"context"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/messaging"
)

// Model is the fingerprint the mock platform registers under.
const Model = "MOCK"

// CarInterface is the mock platform.
type CarInterface struct {
	params car.CarParams
	sm     *messaging.SubMaster
}

// New builds the mock platform. Without a hub the reported speed stays 0.
func New(opts car.Options) *CarInterface {
	const wheelbase = 2.70
	ci := &CarInterface{params: car.CarParams{
		CarName:       "mock",
		CarModel:      Model,
		Mass:          1700,
		Wheelbase:     wheelbase,
		CenterToFront: wheelbase * 0.5,
		SteerRatio:    13,
		DashcamOnly:   true,
		SafetyConfigs: car.NoOutputSafety,
	}}
	if opts.Hub != nil {
		ci.sm = messaging.NewSubMaster(opts.Hub, opts.Clock,
			messaging.TopicGPSLocation, messaging.TopicGPSLocationExternal)
	}
	return ci
}

func init() {
	car.Register("mock", []string{Model}, func(_ string, opts car.Options) (car.Interface, error) {
		return New(opts), nil
	})
}

// Close releases the GPS subscriptions.
func (ci *CarInterface) Close() {
	if ci.sm != nil {
		ci.sm.Close()
	}
}

// Params implements car.Interface.
func (ci *CarInterface) Params() car.CarParams { return ci.params }

// ExtendedParams implements car.Interface.
func (ci *CarInterface) ExtendedParams() car.ExtendedParams { return car.ExtendedParams{} }

// SubscriptionSpec implements car.Interface. Nothing is read from the bus.
func (ci *CarInterface) SubscriptionSpec() []car.Subscription { return nil }

// DecodeState implements car.Interface. The external receiver is used
// once it has delivered after the first update, otherwise the built-in
// one.
func (ci *CarInterface) DecodeState([]can.Batch, car.CarControl, config.Toggles) (car.CarState, car.ExtendedState) {
	ret := car.CarState{CanValid: true}
	if ci.sm != nil {
		ci.sm.Update()
		topic := messaging.TopicGPSLocation
		if ci.sm.RecvFrame(messaging.TopicGPSLocationExternal) > 1 {
			topic = messaging.TopicGPSLocationExternal
		}
		if gps, err := messaging.DecodePayload[messaging.GPSLocation](ci.sm.Get(topic).Payload); err == nil {
			ret.VEgo = gps.Speed
			ret.VEgoRaw = gps.Speed
		}
	}
	return ret, car.ExtendedState{CanValid: true}
}

// ApplyControl implements car.Interface. Nothing is ever sent.
func (ci *CarInterface) ApplyControl(cc car.CarControl, _ uint64, _ config.Toggles) (car.Actuators, []can.Frame) {
	return cc.Actuators, nil
}

// Init implements car.Interface.
func (ci *CarInterface) Init(context.Context, car.CarParams, car.BusHandle) error { return nil }

// HasController implements car.Interface.
func (ci *CarInterface) HasController() bool { return false }

// SetSecOCKey implements car.Interface.
func (ci *CarInterface) SetSecOCKey([]byte) {}
