// Package health aggregates health checks over a module registry into
// overall, readiness and liveness status.
package health

import (
	"context"
	"time"
)

// HealthChecker is one health check.
type HealthChecker interface {
	// Check performs the check. A returned error counts as critical.
	Check(ctx context.Context) (*CheckResult, error)

	// Name returns the unique name of this health check
	Name() string

	// Type decides which probes the check contributes to.
	Type() CheckType
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Name      string         `json:"name"`
	Type      CheckType      `json:"type"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`

	ConsecutiveFailures  int `json:"consecutive_failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
}

// AggregatedStatus represents the aggregated status of all health checks
type AggregatedStatus struct {
	OverallStatus   HealthStatus            `json:"overall_status"`
	ReadinessStatus HealthStatus            `json:"readiness_status"`
	LivenessStatus  HealthStatus            `json:"liveness_status"`
	Timestamp       time.Time               `json:"timestamp"`
	CheckResults    map[string]*CheckResult `json:"check_results"`
	Summary         *StatusSummary          `json:"summary"`
}

// StatusSummary counts results per status.
type StatusSummary struct {
	TotalChecks    int `json:"total_checks"`
	PassingChecks  int `json:"passing_checks"`
	WarningChecks  int `json:"warning_checks"`
	CriticalChecks int `json:"critical_checks"`
	UnknownChecks  int `json:"unknown_checks"`
}

// HealthStatus represents the status of a health check
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
	StatusUnknown  HealthStatus = "unknown"
)

// severity orders statuses from best to worst.
func (s HealthStatus) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	case StatusUnknown:
		return 2
	default:
		return 3
	}
}

// Worse returns the worse of two statuses.
func Worse(a, b HealthStatus) HealthStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// CheckType defines the type of health check for categorization
type CheckType string

const (
	CheckTypeLiveness  CheckType = "liveness"  // liveness probe only
	CheckTypeReadiness CheckType = "readiness" // readiness probe only
	CheckTypeGeneral   CheckType = "general"   // both probes
	CheckTypeDeep      CheckType = "deep"      // overall status only
)

func (t CheckType) affectsReadiness() bool {
	return t == CheckTypeReadiness || t == CheckTypeGeneral
}

func (t CheckType) affectsLiveness() bool {
	return t == CheckTypeLiveness || t == CheckTypeGeneral
}

// StatusChangeCallback is called when the overall status changes.
type StatusChangeCallback func(ctx context.Context, previous, current *AggregatedStatus)
