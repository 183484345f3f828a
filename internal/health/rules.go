package health

import (
	"strings"

	"ttlkv/internal/logs"
	"ttlkv/internal/metrics"
)

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// LogRule evaluates the most recent log entries.
type LogRule func(entries []logs.Entry) RuleResult

// ---------- METRIC RULES ----------

// BackendUnhealthyRule fires while the prober holds the backend unhealthy.
func BackendUnhealthyRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.BackendUnhealthy)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Storage backend is unhealthy",
			Recommendation: "Check backend connectivity and credentials",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}

// ReaperFailureRule fires once any sweep failed. Expired keys stay correct
// through lazy expiration but storage is no longer reclaimed.
func ReaperFailureRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.ReaperFailuresTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Expired key sweeps are failing",
			Recommendation: "Inspect reaper logs and backend write latency",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// ProbeFailureRule fires on any failed backend probe.
func ProbeFailureRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.BackendProbeFailuresTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Backend probe failures detected",
			Recommendation: "Check backend availability and network latency",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// ---------- LOG RULES ----------

func countLogs(entries []logs.Entry, level logs.Level, substr string) int {
	n := 0
	for _, e := range entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

// RepeatedSweepFailureRule fires on 3 or more recent "sweep failed" warnings.
func RepeatedSweepFailureRule(entries []logs.Entry) RuleResult {
	if countLogs(entries, logs.WARN, "sweep failed") >= 3 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Repeated sweep failures detected in logs",
			Recommendation: "Investigate backend health before storage fills with expired keys",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// PanicRule fires on any recent ERROR mentioning a panic.
func PanicRule(entries []logs.Entry) RuleResult {
	if countLogs(entries, logs.ERROR, "panic") > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Application panics detected in logs",
			Recommendation: "Inspect stack traces and stabilize error handling",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}
