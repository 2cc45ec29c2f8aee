// Package car defines the contract every vehicle platform implements and
// the decode helpers the platforms share. Platform packages register
// themselves with Register from an init function; the bridge resolves one
// with New.
package car

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/messaging"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// DtCtrl is the control loop period in seconds.
const DtCtrl = 0.01

// ErrUnknownPlatform is returned by New for a fingerprint no registered
// platform claims.
var ErrUnknownPlatform = errors.New("car: unknown platform")

// Interface is the capability set every vehicle platform provides.
type Interface interface {
	// Params returns the static parameters resolved at construction.
	Params() CarParams
	// ExtendedParams returns the platform-family parameters.
	ExtendedParams() ExtendedParams
	// SubscriptionSpec lists the messages decoded from each bus.
	SubscriptionSpec() []Subscription
	// DecodeState turns one cycle of frames into vehicle state. It never
	// fails: missing or stale signals decode as their last value or 0.
	DecodeState(batches []can.Batch, prev CarControl, toggles config.Toggles) (CarState, ExtendedState)
	// ApplyControl encodes cc and returns what was actually encoded along
	// with the frames to send.
	ApplyControl(cc CarControl, nowNanos uint64, toggles config.Toggles) (Actuators, []can.Frame)
	// Init runs once before the first actuation.
	Init(ctx context.Context, params CarParams, bus BusHandle) error
	// HasController reports whether the platform can actuate at all.
	HasController() bool
	// SetSecOCKey hands the platform the frame authentication key.
	SetSecOCKey(key []byte)
}

// BusHandle is raw bus access for out-of-band setup during Init.
type BusHandle interface {
	Send(frames []can.Frame)
	Receive(ctx context.Context, blocking bool) []can.Batch
}

// Subscription is one message a platform reads.
type Subscription struct {
	Bus            uint8
	Message        string
	Address        uint32
	FrequencyHz    float64
	MaxStaleCycles int
}

// Options carry what a platform factory may need beyond the model name.
type Options struct {
	ExperimentalLongitudinal bool
	// Fingerprint is the set of addresses seen on each bus at startup.
	Fingerprint Fingerprint
	// Hub gives platforms without a vehicle link access to other topics.
	Hub   *messaging.Hub
	Clock timeutil.Clock
}

// Fingerprint maps bus -> address -> payload length.
type Fingerprint map[uint8]map[uint32]int

// Has reports whether addr was seen on bus.
func (f Fingerprint) Has(bus uint8, addr uint32) bool {
	_, ok := f[bus][addr]
	return ok
}

// Collect adds every non-loopback frame in batches to f.
func (f Fingerprint) Collect(batches []can.Batch) {
	for _, b := range batches {
		for _, fr := range b.Frames {
			if fr.Loopback() {
				continue
			}
			m, ok := f[fr.Bus]
			if !ok {
				m = make(map[uint32]int)
				f[fr.Bus] = m
			}
			m[fr.Address] = len(fr.Data)
		}
	}
}

// Factory builds a platform for one model.
type Factory func(model string, opts Options) (Interface, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory) // family -> factory
	models     = make(map[string]string)  // model -> family
)

// Register makes a platform family available to New under each of its
// model names. It panics if a model is registered twice.
func Register(family string, modelNames []string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("car: Register factory is nil")
	}
	factories[family] = f
	for _, m := range modelNames {
		if other, dup := models[m]; dup {
			panic(fmt.Sprintf("car: model %s registered by %s and %s", m, other, family))
		}
		models[m] = family
	}
}

// New builds the platform for fingerprint, which is a model name.
func New(fingerprint string, opts Options) (Interface, error) {
	registryMu.RLock()
	family, ok := models[fingerprint]
	f := factories[family]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, fingerprint)
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = Fingerprint{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	ci, err := f(fingerprint, opts)
	if err != nil {
		return nil, fmt.Errorf("car: %s: %w", fingerprint, err)
	}
	return ci, nil
}

// Models returns every registered model name, sorted.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(models))
	for m := range models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
