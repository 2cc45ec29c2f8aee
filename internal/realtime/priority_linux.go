//go:build linux

package realtime

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/canbridge/internal/monitoring"
)

// ConfigRealtimeProcess locks the calling goroutine to its OS thread, pins
// the thread to cores and switches it to SCHED_FIFO at priority. An empty
// core list or priority 0 leaves that setting alone. Failures are logged
// and returned; callers keep running without realtime scheduling.
func ConfigRealtimeProcess(cores []int, priority int) error {
	runtime.LockOSThread()
	tid := unix.Gettid()

	var errs []error
	if len(cores) > 0 {
		var set unix.CPUSet
		set.Zero()
		for _, c := range cores {
			set.Set(c)
		}
		if err := unix.SchedSetaffinity(tid, &set); err != nil {
			errs = append(errs, fmt.Errorf("set affinity %v: %w", cores, err))
		}
	}
	if priority > 0 {
		attr := &unix.SchedAttr{
			Policy:   unix.SCHED_FIFO,
			Priority: uint32(priority),
		}
		if err := unix.SchedSetAttr(tid, attr, 0); err != nil {
			errs = append(errs, fmt.Errorf("set SCHED_FIFO %d: %w", priority, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		monitoring.Warnf("[realtime] %v", err)
	}
	return errs[0]
}
