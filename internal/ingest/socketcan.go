package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	bcan "github.com/brutella/can"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// socketBus is the part of *bcan.Bus a SocketCANSource uses.
type socketBus interface {
	ConnectAndPublish() error
	Disconnect() error
	Publish(bcan.Frame) error
	SubscribeFunc(fn bcan.HandlerFunc)
}

// SocketCANSource reads and writes one Linux SocketCAN interface mapped to
// a logical bus number.
type SocketCANSource struct {
	iface string
	bus   uint8
	conn  socketBus
	clock timeutil.Clock

	dropped atomic.Uint64
}

// NewSocketCANSource opens iface (for example "can0") as bus.
func NewSocketCANSource(iface string, bus uint8, clock timeutil.Clock) (*SocketCANSource, error) {
	conn, err := bcan.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", iface, err)
	}
	return newSocketCANSource(iface, bus, conn, clock), nil
}

func newSocketCANSource(iface string, bus uint8, conn socketBus, clock timeutil.Clock) *SocketCANSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SocketCANSource{iface: iface, bus: bus, conn: conn, clock: clock}
}

func (s *SocketCANSource) Bus() uint8 { return s.bus }

func (s *SocketCANSource) String() string { return "socketcan:" + s.iface }

// Dropped counts error and remote frames that carried nothing to decode.
func (s *SocketCANSource) Dropped() uint64 { return s.dropped.Load() }

// Run publishes received frames to emit until ctx is done.
func (s *SocketCANSource) Run(ctx context.Context, emit func(can.Frame)) error {
	s.conn.SubscribeFunc(func(wf bcan.Frame) {
		f, ok := can.FromWire(s.bus, wf, timeutil.Nanos(s.clock))
		if !ok {
			s.dropped.Add(1)
			return
		}
		emit(f)
	})

	errc := make(chan error, 1)
	go func() { errc <- s.conn.ConnectAndPublish() }()
	monitoring.Logf("[ingest] %s reading bus %d", s, s.bus)

	select {
	case <-ctx.Done():
		s.conn.Disconnect()
		<-errc
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("ingest: %s: %w", s, err)
		}
		return nil
	}
}

// Send writes f to the interface.
func (s *SocketCANSource) Send(f can.Frame) error {
	wf, err := can.ToWire(f)
	if err != nil {
		return err
	}
	wf.Res0 = 0
	return s.conn.Publish(wf)
}
