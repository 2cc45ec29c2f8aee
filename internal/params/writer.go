package params

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/canbridge/internal/monitoring"
)

// Putter is the write side of a store.
type Putter interface {
	Put(key string, value []byte) error
}

type pendingWrite struct {
	key   string
	value []byte
}

// Writer applies writes from a bounded queue on its own goroutine. A write
// is accepted or dropped without blocking the caller, and there is no
// guarantee about when another reader observes it.
type Writer struct {
	store Putter
	queue chan pendingWrite

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewWriter creates a Writer holding up to size pending writes.
func NewWriter(store Putter, size int) *Writer {
	if size <= 0 {
		size = 64
	}
	return &Writer{store: store, queue: make(chan pendingWrite, size)}
}

// PutNonBlocking queues a write. It reports false when the queue was full
// and the write was dropped.
func (w *Writer) PutNonBlocking(key string, value []byte) bool {
	select {
	case w.queue <- pendingWrite{key: key, value: value}:
		return true
	default:
		w.dropped.Add(1)
		monitoring.Warnf("[params] write queue full, dropped %s", key)
		return false
	}
}

// PutBoolNonBlocking queues a boolean write.
func (w *Writer) PutBoolNonBlocking(key string, v bool) bool {
	return w.PutNonBlocking(key, boolBytes(v))
}

// Run applies queued writes until ctx is done, then applies what is left.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case p := <-w.queue:
					w.apply(p)
				default:
					return
				}
			}
		case p := <-w.queue:
			w.apply(p)
		}
	}
}

func (w *Writer) apply(p pendingWrite) {
	if err := w.store.Put(p.key, p.value); err != nil {
		w.failed.Add(1)
		monitoring.Logf("[params] %v", err)
		return
	}
	w.written.Add(1)
}

// Written returns the number of writes applied.
func (w *Writer) Written() uint64 { return w.written.Load() }

// Failed returns the number of writes the store rejected.
func (w *Writer) Failed() uint64 { return w.failed.Load() }

// Dropped returns the number of writes dropped on a full queue.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }
