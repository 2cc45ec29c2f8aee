// Package realtime keeps a loop running at a fixed frequency and reports
// how far behind schedule it runs.
package realtime

import (
	"sync"
	"time"

	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

const (
	dtWindow      = 100
	historyLength = 1000
)

// Stats is a snapshot of the rate keeper's telemetry.
type Stats struct {
	Frame     uint64
	Remaining time.Duration
	AvgDt     time.Duration
	Lagged    uint64
	Interval  time.Duration
}

// Ratekeeper paces a loop at a fixed rate. A cycle that overruns its
// deadline does not cause a burst of short cycles: the next deadline is
// re-anchored one interval after the overrun was observed.
type Ratekeeper struct {
	clock          timeutil.Clock
	interval       time.Duration
	printThreshold time.Duration

	mu          sync.Mutex
	next        time.Time
	lastMonitor time.Time
	frame       uint64
	remaining   time.Duration
	lagged      uint64
	dts         []time.Duration
	dtPos       int
	history     []float64
	histPos     int
}

// NewRatekeeper creates a rate keeper for rateHz. printDelayThreshold > 0
// logs every cycle that is later than the threshold.
func NewRatekeeper(rateHz float64, printDelayThreshold time.Duration, clock timeutil.Clock) *Ratekeeper {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := time.Duration(float64(time.Second) / rateHz)
	now := clock.Now()
	return &Ratekeeper{
		clock:          clock,
		interval:       interval,
		printThreshold: printDelayThreshold,
		next:           now.Add(interval),
		lastMonitor:    now,
		dts:            []time.Duration{interval},
		history:        make([]float64, 0, historyLength),
	}
}

// KeepTime records the cycle and sleeps out whatever is left of it. It
// reports whether the cycle lagged past the print threshold.
func (r *Ratekeeper) KeepTime() bool {
	lagged := r.MonitorTime()
	if rem := r.Remaining(); rem > 0 {
		r.clock.Sleep(rem)
	}
	return lagged
}

// MonitorTime records a cycle without sleeping.
func (r *Ratekeeper) MonitorTime() bool {
	now := r.clock.Now()

	r.mu.Lock()
	r.pushDt(now.Sub(r.lastMonitor))
	r.lastMonitor = now

	remaining := r.next.Sub(now)
	if remaining > 0 {
		r.next = r.next.Add(r.interval)
	} else {
		r.next = now.Add(r.interval)
	}
	r.frame++
	r.remaining = remaining
	r.pushHistory(remaining)

	lagged := false
	if r.printThreshold > 0 && remaining < -r.printThreshold {
		lagged = true
		r.lagged++
	}
	r.mu.Unlock()

	if lagged {
		monitoring.Logf("[realtime] lagging by %.2f ms", -remaining.Seconds()*1000)
	}
	return lagged
}

func (r *Ratekeeper) pushDt(dt time.Duration) {
	if len(r.dts) < dtWindow {
		r.dts = append(r.dts, dt)
		return
	}
	r.dts[r.dtPos] = dt
	r.dtPos = (r.dtPos + 1) % dtWindow
}

func (r *Ratekeeper) pushHistory(remaining time.Duration) {
	lagMs := -remaining.Seconds() * 1000
	if len(r.history) < historyLength {
		r.history = append(r.history, lagMs)
		return
	}
	r.history[r.histPos] = lagMs
	r.histPos = (r.histPos + 1) % historyLength
}

// Remaining is the signed time left in the current cycle when it was last
// monitored. Negative means the cycle ran late.
func (r *Ratekeeper) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// Frame is the number of monitored cycles.
func (r *Ratekeeper) Frame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Interval is the nominal cycle period.
func (r *Ratekeeper) Interval() time.Duration { return r.interval }

// AvgDt is the mean period of the last 100 cycles.
func (r *Ratekeeper) AvgDt() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avgDtLocked()
}

func (r *Ratekeeper) avgDtLocked() time.Duration {
	var sum time.Duration
	for _, dt := range r.dts {
		sum += dt
	}
	return sum / time.Duration(len(r.dts))
}

// Stats returns a snapshot of the telemetry.
func (r *Ratekeeper) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Frame:     r.frame,
		Remaining: r.remaining,
		AvgDt:     r.avgDtLocked(),
		Lagged:    r.lagged,
		Interval:  r.interval,
	}
}

// LagHistory returns the lag in milliseconds of up to the last 1000
// cycles, oldest first. Early cycles report negative lag.
func (r *Ratekeeper) LagHistory() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, 0, len(r.history))
	if len(r.history) < historyLength {
		return append(out, r.history...)
	}
	out = append(out, r.history[r.histPos:]...)
	return append(out, r.history[:r.histPos]...)
}
