package backend

import "time"

// RetryPolicy controls retries of backend connection attempts.
type RetryPolicy struct {
	MaxRetries  int           // retries after the first attempt
	BaseBackoff time.Duration // first delay, doubled after each failure
	MaxBackoff  time.Duration // upper bound on a single delay
	JitterFn    func(time.Duration) time.Duration
}

// HealthPolicy defines when the backend is considered unhealthy or recovered.
type HealthPolicy struct {
	FailureThreshold int // consecutive failed probes to mark unhealthy
	SuccessThreshold int // consecutive good probes to mark healthy again
}

// ProbePolicy controls the background liveness probe.
type ProbePolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Policy struct {
	Retry  RetryPolicy
	Health HealthPolicy
	Probe  ProbePolicy
}

func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			MaxRetries:  3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
			JitterFn:    func(d time.Duration) time.Duration { return d / 2 },
		},
		Health: HealthPolicy{
			FailureThreshold: 3,
			SuccessThreshold: 2,
		},
		Probe: ProbePolicy{
			Interval: 15 * time.Second,
			Timeout:  2 * time.Second,
		},
	}
}
