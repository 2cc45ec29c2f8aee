package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/serialmux"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// SLCANSource reads and writes one serial SLCAN adapter through a serial
// multiplexer. The mux's Monitor loop must be running for frames to
// arrive.
type SLCANSource struct {
	mux   serialmux.SerialMuxInterface
	bus   uint8
	clock timeutil.Clock

	malformed atomic.Uint64
	once      monitoring.OnceLogger
}

// NewSLCANSource wraps mux as bus.
func NewSLCANSource(mux serialmux.SerialMuxInterface, bus uint8, clock timeutil.Clock) *SLCANSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SLCANSource{mux: mux, bus: bus, clock: clock}
}

func (s *SLCANSource) Bus() uint8 { return s.bus }

func (s *SLCANSource) String() string { return fmt.Sprintf("slcan:%d", s.bus) }

// Malformed counts adapter lines that looked like frames but did not parse.
func (s *SLCANSource) Malformed() uint64 { return s.malformed.Load() }

// Run parses adapter lines into frames until ctx is done or the mux closes.
func (s *SLCANSource) Run(ctx context.Context, emit func(can.Frame)) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			f, ok, err := can.ParseSLCAN(line, s.bus, timeutil.Nanos(s.clock))
			if err != nil {
				s.malformed.Add(1)
				s.once.Logf("malformed", "[ingest] %s: %v", s, err)
				continue
			}
			if ok {
				emit(f)
			}
		}
	}
}

// Send writes f as an SLCAN transmit command.
func (s *SLCANSource) Send(f can.Frame) error {
	line, err := can.FormatSLCAN(f)
	if err != nil {
		return err
	}
	return s.mux.SendCommand(line)
}
