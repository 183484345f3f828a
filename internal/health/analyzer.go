// Package health turns metrics and recent logs into a health report.
package health

import (
	"ttlkv/internal/logs"
	"ttlkv/internal/metrics"
)

// logWindow is how many recent log entries log rules look at.
const logWindow = 100

// StatusSource exposes the backend prober state. *backend.Prober satisfies it.
type StatusSource interface {
	IsHealthy() bool
}

// Analyzer converts metrics + logs into a Report.
type Analyzer struct {
	metrics  *metrics.Registry
	logs     *logs.Buffer
	rules    []Rule
	logRules []LogRule
	backend  StatusSource
	details  func() any
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBackendStatus attaches the prober; details, when non-nil, is embedded
// in every report.
func WithBackendStatus(src StatusSource, details func() any) Option {
	return func(a *Analyzer) {
		a.backend = src
		a.details = details
	}
}

// NewAnalyzer creates a new analyzer with the default rules.
func NewAnalyzer(
	reg *metrics.Registry,
	buf *logs.Buffer,
	opts ...Option,
) *Analyzer {
	a := &Analyzer{
		metrics: reg,
		logs:    buf,
		rules: []Rule{
			BackendUnhealthyRule,
			ReaperFailureRule,
			ProbeFailureRule,
		},
		logRules: []LogRule{
			RepeatedSweepFailureRule,
			PanicRule,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze evaluates metrics and logs and returns a health report.
func (a *Analyzer) Analyze() Report {
	report := Report{
		OverallStatus:   StatusOK,
		Signals:         []string{},
		Recommendations: []string{},
	}

	apply := func(r RuleResult) {
		if !r.Triggered {
			return
		}
		report.Signals = append(report.Signals, r.Signal)
		report.Recommendations = append(report.Recommendations, r.Recommendation)
		if r.Severity.severity() > report.OverallStatus.severity() {
			report.OverallStatus = r.Severity
		}
	}

	snapshot := a.metrics.Snapshot()
	for _, rule := range a.rules {
		apply(rule(snapshot))
	}

	if a.logs != nil {
		entries := a.logs.GetLast(logWindow)
		for _, rule := range a.logRules {
			apply(rule(entries))
		}
	}

	if a.details != nil {
		report.Backend = a.details()
	}

	report.Summary = "System is healthy"
	if report.OverallStatus != StatusOK {
		report.Summary = "System health issues detected"
	}
	return report
}

// Ready reports whether the service can serve traffic: the backend prober
// (when attached) must consider the backend healthy.
func (a *Analyzer) Ready() bool {
	return a.backend == nil || a.backend.IsHealthy()
}
