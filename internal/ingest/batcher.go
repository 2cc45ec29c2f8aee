package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// DefaultBatchWindow is the acquisition window of one batch.
const DefaultBatchWindow = 10 * time.Millisecond

// Batcher groups frames from any number of sources into fixed windows and
// hands each non-empty window to its sinks.
type Batcher struct {
	window time.Duration
	clock  timeutil.Clock
	sinks  []func(can.Batch)

	mu      sync.Mutex
	pending []can.Frame
}

// NewBatcher creates a Batcher. A zero window uses DefaultBatchWindow.
func NewBatcher(window time.Duration, clock timeutil.Clock, sinks ...func(can.Batch)) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Batcher{window: window, clock: clock, sinks: sinks}
}

// Add queues f for the current window. Frames without a timestamp are
// stamped with the arrival time.
func (b *Batcher) Add(f can.Frame) {
	if f.Timestamp == 0 {
		f.Timestamp = timeutil.Nanos(b.clock)
	}
	b.mu.Lock()
	b.pending = append(b.pending, f)
	b.mu.Unlock()
}

// Flush closes the current window. An empty window is not delivered.
func (b *Batcher) Flush() {
	b.mu.Lock()
	frames := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(frames) == 0 {
		return
	}
	batch := can.Batch{LogMonoTime: timeutil.Nanos(b.clock), Frames: frames, Valid: true}
	for _, sink := range b.sinks {
		sink(batch)
	}
}

// Run flushes once per window until ctx is done.
func (b *Batcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-b.clock.After(b.window):
			b.Flush()
		}
	}
}
