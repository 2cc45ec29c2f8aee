package realtime

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canbridge/internal/monitoring"
	"github.com/banshee-data/canbridge/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestKeeper(threshold time.Duration) (*Ratekeeper, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	return NewRatekeeper(100, threshold, clock), clock
}

func TestKeepTimeSleepsRemainingBudget(t *testing.T) {
	rk, clock := newTestKeeper(0)
	require.Equal(t, 10*time.Millisecond, rk.Interval())

	for i := 0; i < 5; i++ {
		clock.Advance(3 * time.Millisecond)
		assert.False(t, rk.KeepTime())
		assert.Equal(t, 7*time.Millisecond, rk.Remaining())
	}

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 5)
	for _, s := range sleeps {
		assert.Equal(t, 7*time.Millisecond, s)
	}
	assert.Equal(t, uint64(5), rk.Frame())
}

func TestOverrunReanchorsWithoutCatchUp(t *testing.T) {
	rk, clock := newTestKeeper(0)

	clock.Advance(3 * time.Millisecond)
	rk.KeepTime()

	clock.Advance(25 * time.Millisecond)
	rk.KeepTime()
	assert.Equal(t, -15*time.Millisecond, rk.Remaining())
	assert.Len(t, clock.Sleeps(), 1, "a late cycle must not sleep")

	// The cycle after an overrun gets a full period, not a shortened one.
	rk.KeepTime()
	assert.Equal(t, 10*time.Millisecond, rk.Remaining())
}

func TestLagThreshold(t *testing.T) {
	rk, clock := newTestKeeper(5 * time.Millisecond)

	clock.Advance(14 * time.Millisecond) // 4 ms late
	assert.False(t, rk.MonitorTime())

	clock.Advance(16 * time.Millisecond) // 6 ms late after re-anchor
	assert.True(t, rk.MonitorTime())

	assert.Equal(t, uint64(1), rk.Stats().Lagged)
}

func TestMonitorTimeWithoutThresholdNeverLags(t *testing.T) {
	rk, clock := newTestKeeper(0)
	clock.Advance(time.Second)
	assert.False(t, rk.MonitorTime())
	assert.Equal(t, uint64(0), rk.Stats().Lagged)
}

func TestAvgDt(t *testing.T) {
	rk, clock := newTestKeeper(0)
	assert.Equal(t, 10*time.Millisecond, rk.AvgDt())

	for i := 0; i < 200; i++ {
		clock.Advance(4 * time.Millisecond)
		rk.KeepTime()
	}
	assert.Equal(t, 10*time.Millisecond, rk.AvgDt())
	assert.Equal(t, uint64(200), rk.Stats().Frame)
}

func TestLagHistoryWraps(t *testing.T) {
	rk, clock := newTestKeeper(0)
	for i := 0; i < historyLength+10; i++ {
		clock.Advance(2 * time.Millisecond)
		rk.KeepTime()
	}
	hist := rk.LagHistory()
	require.Len(t, hist, historyLength)
	for _, v := range hist {
		assert.InDelta(t, -8.0, v, 1e-9)
	}
}
