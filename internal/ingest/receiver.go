// Package ingest moves raw frames from physical links into the control
// loop and outgoing frames back onto them. Sources feed a Batcher, the
// Batcher feeds the Receiver queue, and the loop drains the Receiver once
// per cycle.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// DefaultReceiveTimeout bounds how long a blocking Receive waits for the
// first batch.
const DefaultReceiveTimeout = 20 * time.Millisecond

// DefaultQueueSize is the number of batches held before the oldest is
// dropped.
const DefaultQueueSize = 100

// Receiver is the bounded batch queue read by the control loop.
type Receiver struct {
	queue    chan can.Batch
	timeout  time.Duration
	clock    timeutil.Clock
	timeouts atomic.Uint64
	drops    atomic.Uint64
	received atomic.Uint64
}

// ReceiverConfig configures a Receiver. Zero values take the defaults.
type ReceiverConfig struct {
	QueueSize int
	Timeout   time.Duration
	Clock     timeutil.Clock
}

// NewReceiver creates a Receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReceiveTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Receiver{
		queue:   make(chan can.Batch, cfg.QueueSize),
		timeout: cfg.Timeout,
		clock:   cfg.Clock,
	}
}

// Push enqueues b. When the queue is full the oldest batch is discarded
// and counted so a stalled loop never blocks the sources.
func (r *Receiver) Push(b can.Batch) {
	for {
		select {
		case r.queue <- b:
			return
		default:
		}
		select {
		case <-r.queue:
			r.drops.Add(1)
		default:
		}
	}
}

// Receive returns every queued batch. With blocking set it first waits up
// to the receive timeout for one batch to arrive. An empty result counts
// as a timeout.
func (r *Receiver) Receive(ctx context.Context, blocking bool) []can.Batch {
	var out []can.Batch
	if blocking {
		select {
		case b := <-r.queue:
			out = append(out, b)
		case <-r.clock.After(r.timeout):
		case <-ctx.Done():
		}
	}
	out = r.drain(out)
	if len(out) == 0 {
		r.timeouts.Add(1)
	} else {
		r.received.Add(uint64(len(out)))
	}
	return out
}

func (r *Receiver) drain(out []can.Batch) []can.Batch {
	for {
		select {
		case b := <-r.queue:
			out = append(out, b)
		default:
			return out
		}
	}
}

// TimeoutCount is the number of Receive calls that returned nothing. It
// never decreases.
func (r *Receiver) TimeoutCount() uint64 { return r.timeouts.Load() }

// Drops is the number of batches discarded because the queue was full.
func (r *Receiver) Drops() uint64 { return r.drops.Load() }

// Received is the number of batches handed to the loop.
func (r *Receiver) Received() uint64 { return r.received.Load() }
