package backend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ttlkv/internal/metrics"
)

// State represents the health state of the backend.
type State int

const (
	Healthy State = iota
	Unhealthy
)

func (s State) String() string {
	if s == Unhealthy {
		return "unhealthy"
	}
	return "healthy"
}

// Pinger is anything whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is a point-in-time view of the prober.
type Status struct {
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastError            string    `json:"last_error,omitempty"`
	LastCheck            time.Time `json:"last_check"`
}

// Prober periodically pings the backend and flips it between healthy and
// unhealthy using the HealthPolicy thresholds. It only observes; requests
// keep going to the backend either way.
type Prober struct {
	target  Pinger
	policy  Policy
	logger  *zap.SugaredLogger
	metrics *metrics.Registry

	mu        sync.RWMutex
	state     State
	failures  int
	successes int
	lastErr   error
	lastCheck time.Time
}

// NewProber creates a prober that starts out healthy.
func NewProber(
	target Pinger,
	policy Policy,
	logger *zap.SugaredLogger,
	metricsRegistry *metrics.Registry,
) *Prober {
	metricsRegistry.Set(metrics.BackendUnhealthy, 0)
	return &Prober{
		target:  target,
		policy:  policy,
		logger:  logger,
		metrics: metricsRegistry,
		state:   Healthy,
	}
}

// Start begins the probe loop
// Stops immediately when the ctx is cancelled
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.policy.Probe.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) runOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.policy.Probe.Timeout)
	defer cancel()

	if err := p.target.Ping(probeCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.markFailure(err)
		return
	}
	p.markSuccess()
}

func (p *Prober) markFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.Inc(metrics.BackendProbeFailuresTotal)
	p.lastErr = err
	p.lastCheck = time.Now()
	p.failures++
	p.successes = 0

	p.logger.Warnw("backend probe failed", "error", err, "consecutive_failures", p.failures)

	if p.state == Healthy && p.failures >= p.policy.Health.FailureThreshold {
		p.state = Unhealthy
		p.metrics.Set(metrics.BackendUnhealthy, 1)
		p.logger.Errorw("backend marked unhealthy", "error", err)
	}
}

func (p *Prober) markSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = nil
	p.lastCheck = time.Now()
	p.successes++
	p.failures = 0

	if p.state == Unhealthy && p.successes >= p.policy.Health.SuccessThreshold {
		p.state = Healthy
		p.metrics.Set(metrics.BackendUnhealthy, 0)
		p.logger.Infow("backend recovered")
	}
}

func (p *Prober) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == Healthy
}

func (p *Prober) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{
		State:                p.state.String(),
		ConsecutiveFailures:  p.failures,
		ConsecutiveSuccesses: p.successes,
		LastCheck:            p.lastCheck,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}
