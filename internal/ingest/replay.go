package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

// ReplayConfig configures capture replay.
type ReplayConfig struct {
	// SpeedMultiplier scales replay speed (1.0 = real time, 2.0 = twice as fast).
	SpeedMultiplier float64
	// Window groups frames into batches by their recorded timestamps.
	Window time.Duration
	Clock  timeutil.Clock
}

// ReplaySource replays a capture written by Recorder. Batches keep their
// recorded timestamps so the loop can run on log time.
type ReplaySource struct {
	path string
	cfg  ReplayConfig
}

// NewReplaySource creates a source for the capture at path.
func NewReplaySource(path string, cfg ReplayConfig) *ReplaySource {
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1.0
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBatchWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &ReplaySource{path: path, cfg: cfg}
}

func (s *ReplaySource) String() string { return "replay:" + s.path }

// Run pushes recorded batches to push, paced by their original spacing,
// and returns nil at the end of the capture.
func (s *ReplaySource) Run(ctx context.Context, push func(can.Batch)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("ingest: open capture: %w", err)
	}
	defer f.Close()

	r, err := can.NewLogReader(f)
	if err != nil {
		return err
	}
	return s.replay(ctx, r, push)
}

func (s *ReplaySource) replay(ctx context.Context, r *can.LogReader, push func(can.Batch)) error {
	window := uint64(s.cfg.Window)
	var (
		batch    can.Batch
		lastSent uint64
		batches  int
	)
	send := func() error {
		if len(batch.Frames) == 0 {
			return nil
		}
		if lastSent != 0 && batch.LogMonoTime > lastSent {
			delay := time.Duration(float64(batch.LogMonoTime-lastSent) / s.cfg.SpeedMultiplier)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.cfg.Clock.After(delay):
			}
		}
		lastSent = batch.LogMonoTime
		push(batch)
		batches++
		batch = can.Batch{}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fr, err := r.Next()
		if errors.Is(err, io.EOF) {
			if err := send(); err != nil {
				return err
			}
			monitoring.Logf("[ingest] %s complete: %d batches", s, batches)
			return nil
		}
		if err != nil {
			return fmt.Errorf("ingest: %s: %w", s, err)
		}
		if len(batch.Frames) > 0 && fr.Timestamp >= batch.LogMonoTime+window {
			if err := send(); err != nil {
				return err
			}
		}
		if len(batch.Frames) == 0 {
			batch.LogMonoTime = fr.Timestamp
			batch.Valid = true
		}
		batch.Frames = append(batch.Frames, fr)
	}
}
