package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/canbridge/internal/can"
)

// FrameSource delivers frames from one physical link until ctx is done or
// the link fails.
type FrameSource interface {
	Run(ctx context.Context, emit func(can.Frame)) error
}

// FrameSink puts frames onto one physical link.
type FrameSink interface {
	Send(f can.Frame) error
}

// ErrNoSink is returned when a frame is addressed to a bus nothing
// transmits on.
var ErrNoSink = errors.New("ingest: no sink for bus")

// Link is a bidirectional connection to one bus.
type Link interface {
	FrameSource
	FrameSink
	Bus() uint8
	fmt.Stringer
}

// DiscardSink accepts and drops every frame. Replay uses it so the loop
// runs unchanged without transmitting.
type DiscardSink struct{}

func (DiscardSink) Send(can.Frame) error { return nil }
