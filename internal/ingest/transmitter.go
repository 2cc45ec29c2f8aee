package ingest

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/monitoring"
)

// Transmitter writes outgoing frames to the sink for their bus off the
// control loop's goroutine, and echoes each sent frame on the loopback bus
// so platforms can read back their own last command.
type Transmitter struct {
	sinks map[uint8]FrameSink
	echo  func(can.Frame)
	queue chan []can.Frame

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
	once    monitoring.OnceLogger
}

// NewTransmitter creates a Transmitter. echo receives loopback copies and
// may be nil.
func NewTransmitter(sinks map[uint8]FrameSink, echo func(can.Frame)) *Transmitter {
	return &Transmitter{
		sinks: sinks,
		echo:  echo,
		queue: make(chan []can.Frame, 16),
	}
}

// Transmit queues frames without blocking. A full queue drops the set.
func (t *Transmitter) Transmit(frames []can.Frame) {
	if len(frames) == 0 {
		return
	}
	select {
	case t.queue <- frames:
	default:
		t.dropped.Add(1)
	}
}

// Run drains the queue until ctx is done.
func (t *Transmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frames := <-t.queue:
			t.send(frames)
		}
	}
}

func (t *Transmitter) send(frames []can.Frame) {
	for _, f := range frames {
		sink, ok := t.sinks[f.Bus]
		if !ok {
			t.failed.Add(1)
			t.once.Logf("nosink", "[ingest] %v: bus %d", ErrNoSink, f.Bus)
			continue
		}
		if err := sink.Send(f); err != nil {
			t.failed.Add(1)
			t.once.Logf("send", "[ingest] transmit on bus %d failed: %v", f.Bus, err)
			continue
		}
		t.sent.Add(1)
		if t.echo != nil {
			lb := f
			lb.Bus = can.LoopbackBus(f.Bus)
			lb.Timestamp = 0
			t.echo(lb)
		}
	}
}

// Sent returns the number of frames written.
func (t *Transmitter) Sent() uint64 { return t.sent.Load() }

// Failed returns the number of frames that could not be written.
func (t *Transmitter) Failed() uint64 { return t.failed.Load() }

// Dropped returns the number of frame sets discarded on a full queue.
func (t *Transmitter) Dropped() uint64 { return t.dropped.Load() }
