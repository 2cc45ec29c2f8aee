//go:build !linux

package realtime

import "runtime"

// ConfigRealtimeProcess only locks the goroutine to its thread on
// platforms without SCHED_FIFO.
func ConfigRealtimeProcess(cores []int, priority int) error {
	runtime.LockOSThread()
	return nil
}
