package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorAggregatesHealthy(t *testing.T) {
	m := NewMonitor("test")
	assert.Equal(t, Healthy, m.State())

	m.Register("partition-1", true, "")
	m.Register("disk", true, "")
	assert.Equal(t, Healthy, m.State())
}

func TestMonitorDegradesOnPartialFailure(t *testing.T) {
	m := NewMonitor("test")
	m.Register("partition-1", true, "")
	m.Register("partition-2", false, "raft apply failed")
	assert.Equal(t, Degraded, m.State())
}

func TestMonitorUnhealthyWhenAllFail(t *testing.T) {
	m := NewMonitor("test")
	m.Register("partition-1", false, "boom")
	assert.Equal(t, Unhealthy, m.State())
}

func TestMonitorMarkDeadIsTerminal(t *testing.T) {
	m := NewMonitor("test")
	m.Register("partition-1", true, "")
	m.MarkDead("unrecoverable invariant violation")
	assert.Equal(t, Dead, m.State())

	m.Update("partition-1", true, "")
	assert.Equal(t, Dead, m.State(), "Dead must be terminal")
}

func TestMonitorUnregisterRemovesComponent(t *testing.T) {
	m := NewMonitor("test")
	m.Register("partition-1", false, "boom")
	assert.Equal(t, Unhealthy, m.State())

	m.Unregister("partition-1")
	assert.Equal(t, Healthy, m.State())
}

type fakeChecker struct {
	healthy bool
}

func (f *fakeChecker) Type() CheckType { return CheckTypeDisk }
func (f *fakeChecker) Check(context.Context) Result {
	return Result{Healthy: f.healthy, CheckedAt: time.Now()}
}

func TestMonitorRunCheckerStopsOnContextCancel(t *testing.T) {
	m := NewMonitor("test")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.RunChecker(ctx, "fake", &fakeChecker{healthy: true}, Config{Interval: 5 * time.Millisecond, Timeout: time.Second, Retries: 1})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return m.State() == Healthy
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunChecker did not stop after context cancellation")
	}
}
