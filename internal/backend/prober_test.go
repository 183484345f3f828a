package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttlkv/internal/logs"
	"ttlkv/internal/metrics"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestProber(target Pinger) (*Prober, *metrics.Registry, *logs.Buffer) {
	policy := DefaultPolicy()
	policy.Health.FailureThreshold = 2
	policy.Health.SuccessThreshold = 2
	policy.Probe.Interval = 5 * time.Millisecond
	policy.Probe.Timeout = 50 * time.Millisecond

	reg := metrics.NewRegistry()
	buf := logs.NewBuffer(20, logs.DEBUG)
	return NewProber(target, policy, logs.NewBufferedNop(buf), reg), reg, buf
}

func TestProber_StartsHealthy(t *testing.T) {
	p, reg, _ := newTestProber(&fakePinger{})

	assert.True(t, p.IsHealthy())
	assert.Equal(t, "healthy", p.Status().State)
	assert.Equal(t, int64(0), reg.Snapshot()[string(metrics.BackendUnhealthy)])
}

func TestProber_FailureThreshold(t *testing.T) {
	target := &fakePinger{err: errors.New("connection refused")}
	p, reg, buf := newTestProber(target)

	p.runOnce(context.Background())
	assert.True(t, p.IsHealthy(), "one failure is below the threshold")

	p.runOnce(context.Background())
	assert.False(t, p.IsHealthy())

	snap := reg.Snapshot()
	assert.Equal(t, int64(2), snap[string(metrics.BackendProbeFailuresTotal)])
	assert.Equal(t, int64(1), snap[string(metrics.BackendUnhealthy)])

	st := p.Status()
	assert.Equal(t, "unhealthy", st.State)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, "connection refused", st.LastError)

	last := buf.GetLast(1)
	require.Len(t, last, 1)
	assert.Equal(t, logs.ERROR, last[0].Level)
	assert.Equal(t, "backend marked unhealthy", last[0].Message)
}

func TestProber_Recovery(t *testing.T) {
	target := &fakePinger{err: errors.New("down")}
	p, reg, _ := newTestProber(target)

	p.runOnce(context.Background())
	p.runOnce(context.Background())
	require.False(t, p.IsHealthy())

	target.set(nil)

	p.runOnce(context.Background())
	assert.False(t, p.IsHealthy(), "one success is below the threshold")

	p.runOnce(context.Background())
	assert.True(t, p.IsHealthy())
	assert.Equal(t, int64(0), reg.Snapshot()[string(metrics.BackendUnhealthy)])
	assert.Empty(t, p.Status().LastError)
}

func TestProber_SuccessResetsFailures(t *testing.T) {
	target := &fakePinger{err: errors.New("flaky")}
	p, _, _ := newTestProber(target)

	p.runOnce(context.Background())
	target.set(nil)
	p.runOnce(context.Background())
	target.set(errors.New("flaky"))
	p.runOnce(context.Background())

	assert.True(t, p.IsHealthy(), "failures must be consecutive")
}

func TestProber_Start(t *testing.T) {
	target := &fakePinger{err: errors.New("down")}
	p, _, _ := newTestProber(target)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	assert.Eventually(t, func() bool {
		return !p.IsHealthy()
	}, time.Second, 5*time.Millisecond)
}
