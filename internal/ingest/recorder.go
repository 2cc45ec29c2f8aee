package ingest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/monitoring"
)

// Recorder tees batches into a capture file from its own goroutine.
type Recorder struct {
	f     *os.File
	buf   *bufio.Writer
	w     *can.LogWriter
	queue chan can.Batch

	dropped atomic.Uint64
}

// NewRecorder creates the capture file at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: create capture: %w", err)
	}
	buf := bufio.NewWriter(f)
	w, err := can.NewLogWriter(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{f: f, buf: buf, w: w, queue: make(chan can.Batch, 256)}, nil
}

// Record queues b without blocking.
func (r *Recorder) Record(b can.Batch) {
	select {
	case r.queue <- b:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of batches not recorded on a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued batches until ctx is done, then flushes and closes the
// file.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.f.Close()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case b := <-r.queue:
					r.write(b)
				default:
					if err := r.buf.Flush(); err != nil {
						return fmt.Errorf("ingest: flush capture: %w", err)
					}
					return nil
				}
			}
		case b := <-r.queue:
			r.write(b)
		}
	}
}

func (r *Recorder) write(b can.Batch) {
	if err := r.w.WriteBatch(b); err != nil {
		monitoring.Logf("[ingest] record batch: %v", err)
	}
}
