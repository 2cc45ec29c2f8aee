package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/canbridge/internal/car"
	"github.com/banshee-data/canbridge/internal/config"
	"github.com/banshee-data/canbridge/internal/ingest"
	"github.com/banshee-data/canbridge/internal/messaging"
	"github.com/banshee-data/canbridge/internal/serialmux"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// replayBuses are the buses replay accepts transmissions for.
const replayBuses = 4

// pandaStatesInterval is how often link state is published.
const pandaStatesInterval = 100 * time.Millisecond

func loadConfig(path, fingerprint string) (*config.BridgeConfig, error) {
	cfg := config.DefaultBridgeConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadBridgeConfig(path); err != nil {
			return nil, err
		}
	}
	if fingerprint != "" {
		cfg.Fingerprint = &fingerprint
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GetFingerprint() == "" {
		return nil, fmt.Errorf("%w: no fingerprint configured", config.ErrInvalidConfig)
	}
	return cfg, nil
}

// openLinks opens the configured vehicle links. Bus numbers follow the
// order of the configured interfaces. The serial adapter is returned so the
// caller can run its monitor; sources without one get a disabled adapter.
func openLinks(cfg *config.BridgeConfig, clock timeutil.Clock) ([]ingest.Link, serialmux.SerialMuxInterface, error) {
	switch cfg.GetCANSource() {
	case config.SourceSocketCAN:
		var links []ingest.Link
		for i, iface := range cfg.GetInterfaces() {
			l, err := ingest.NewSocketCANSource(iface, uint8(i), clock)
			if err != nil {
				return nil, nil, err
			}
			links = append(links, l)
		}
		return links, serialmux.NewDisabledSerialMux(), nil
	case config.SourceSLCAN:
		opts := cfg.GetSerialOptions()
		mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
		if err != nil {
			return nil, nil, err
		}
		if err := mux.Initialize(opts.CANBitrate); err != nil {
			mux.Close()
			return nil, nil, fmt.Errorf("initialize adapter: %w", err)
		}
		return []ingest.Link{ingest.NewSLCANSource(mux, 0, clock)}, mux, nil
	case config.SourceReplay:
		return nil, serialmux.NewDisabledSerialMux(), nil
	}
	return nil, nil, fmt.Errorf("unknown can_source %q", cfg.GetCANSource())
}

// frameSinks maps each bus to the link that transmits on it. Replay
// discards transmissions on every bus.
func frameSinks(links []ingest.Link, replay bool) map[uint8]ingest.FrameSink {
	sinks := make(map[uint8]ingest.FrameSink)
	if replay {
		for bus := uint8(0); bus < replayBuses; bus++ {
			sinks[bus] = ingest.DiscardSink{}
		}
		return sinks
	}
	for _, l := range links {
		sinks[l.Bus()] = l
	}
	return sinks
}

// pandaReporter publishes one PandaState per link so the loop can tell the
// buses are up before it resolves the platform.
type pandaReporter struct {
	links  []ingest.Link
	rx     *ingest.Receiver
	replay bool

	mu     sync.Mutex
	safety car.SafetyModel
}

func newPandaReporter(links []ingest.Link, rx *ingest.Receiver, replay bool) *pandaReporter {
	return &pandaReporter{links: links, rx: rx, replay: replay}
}

// SetSafety records the safety model the loop settled on.
func (p *pandaReporter) SetSafety(cfgs []car.SafetyConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(cfgs) > 0 {
		p.safety = cfgs[0].Model
	}
}

func (p *pandaReporter) states() []messaging.PandaState {
	p.mu.Lock()
	safety := string(p.safety)
	p.mu.Unlock()

	received := p.rx.Received()
	if p.replay {
		return []messaging.PandaState{{Source: "replay", SafetyModel: safety, Received: received}}
	}
	out := make([]messaging.PandaState, 0, len(p.links))
	for _, l := range p.links {
		out = append(out, messaging.PandaState{
			Bus:         l.Bus(),
			Source:      l.String(),
			SafetyModel: safety,
			Received:    received,
		})
	}
	return out
}

// Run publishes link state until ctx is done.
func (p *pandaReporter) Run(ctx context.Context, pm *messaging.PubMaster, clock timeutil.Clock) {
	for {
		pm.Send(messaging.TopicPandaStates, p.states(), true)
		select {
		case <-ctx.Done():
			return
		case <-clock.After(pandaStatesInterval):
		}
	}
}
