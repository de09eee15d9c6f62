package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/modhub/registry"
)

// Static errors for health package
var (
	ErrHealthCheckNotFound      = errors.New("health check not found")
	ErrHealthCheckExists        = errors.New("health check already registered")
	ErrMonitoringAlreadyRunning = errors.New("monitoring is already running")
)

// Aggregator runs registered checks and folds their results with
// worst-status logic. A probe with no contributing check is healthy.
type Aggregator struct {
	checkers *registry.Table[HealthChecker]
	timeout  time.Duration

	mu          sync.RWMutex
	lastResults map[string]*CheckResult
	lastStatus  *AggregatedStatus
	callbacks   []StatusChangeCallback
}

// AggregatorConfig represents configuration for the health aggregator
type AggregatorConfig struct {
	// Timeout bounds every single check.
	Timeout time.Duration
}

// NewAggregator creates a new health aggregator
func NewAggregator(config *AggregatorConfig) *Aggregator {
	timeout := 5 * time.Second
	if config != nil && config.Timeout > 0 {
		timeout = config.Timeout
	}
	return &Aggregator{
		checkers:    registry.NewTable[HealthChecker](),
		timeout:     timeout,
		lastResults: make(map[string]*CheckResult),
	}
}

// RegisterCheck registers a health check with the aggregator
func (a *Aggregator) RegisterCheck(checker HealthChecker) error {
	if err := a.checkers.Insert(checker.Name(), checker); err != nil {
		return fmt.Errorf("%w: %s", ErrHealthCheckExists, checker.Name())
	}
	return nil
}

// UnregisterCheck removes a health check from the aggregator
func (a *Aggregator) UnregisterCheck(name string) error {
	if _, ok := a.checkers.Remove(name); !ok {
		return fmt.Errorf("%w: %s", ErrHealthCheckNotFound, name)
	}
	a.mu.Lock()
	delete(a.lastResults, name)
	a.mu.Unlock()
	return nil
}

// OnStatusChange registers a callback run by CheckAll when the overall
// status differs from the previous run.
func (a *Aggregator) OnStatusChange(cb StatusChangeCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, cb)
}

// CheckAll runs every check concurrently and returns the aggregated status.
func (a *Aggregator) CheckAll(ctx context.Context) *AggregatedStatus {
	checkers := a.checkers.Values()
	results := make([]*CheckResult, len(checkers))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = a.run(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	for _, r := range results {
		a.track(r)
		a.lastResults[r.Name] = r
	}
	status := aggregate(a.lastResults)
	previous := a.lastStatus
	a.lastStatus = status
	callbacks := append([]StatusChangeCallback(nil), a.callbacks...)
	a.mu.Unlock()

	if previous == nil || previous.OverallStatus != status.OverallStatus {
		for _, cb := range callbacks {
			cb(ctx, previous, status)
		}
	}
	return status
}

// CheckOne runs a specific health check by name
func (a *Aggregator) CheckOne(ctx context.Context, name string) (*CheckResult, error) {
	c, ok := a.checkers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHealthCheckNotFound, name)
	}
	r := a.run(ctx, c)

	a.mu.Lock()
	a.track(r)
	a.lastResults[name] = r
	a.mu.Unlock()
	return r, nil
}

// GetStatus returns the status of the last results without running checks.
func (a *Aggregator) GetStatus() *AggregatedStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return aggregate(a.lastResults)
}

// IsReady runs the checks and reports whether the readiness probe passes.
// Warnings do not make the process unready.
func (a *Aggregator) IsReady(ctx context.Context) bool {
	return passing(a.CheckAll(ctx).ReadinessStatus)
}

// IsLive runs the checks and reports whether the liveness probe passes.
func (a *Aggregator) IsLive(ctx context.Context) bool {
	return passing(a.CheckAll(ctx).LivenessStatus)
}

func passing(s HealthStatus) bool {
	return s == StatusHealthy || s == StatusWarning
}

func (a *Aggregator) run(ctx context.Context, c HealthChecker) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	r, err := c.Check(ctx)
	if err != nil || r == nil {
		r = &CheckResult{Status: StatusCritical}
		if err != nil {
			r.Error = err.Error()
		}
	}
	r.Name = c.Name()
	r.Type = c.Type()
	if r.Timestamp.IsZero() {
		r.Timestamp = start
	}
	if r.Duration == 0 {
		r.Duration = time.Since(start)
	}
	return r
}

// track carries the streak counters over from the previous result.
// Caller holds a.mu.
func (a *Aggregator) track(r *CheckResult) {
	prev := a.lastResults[r.Name]
	if r.Status == StatusHealthy {
		r.ConsecutiveSuccesses = 1
		if prev != nil {
			r.ConsecutiveSuccesses += prev.ConsecutiveSuccesses
		}
		return
	}
	r.ConsecutiveFailures = 1
	if prev != nil {
		r.ConsecutiveFailures += prev.ConsecutiveFailures
	}
}

func aggregate(results map[string]*CheckResult) *AggregatedStatus {
	status := &AggregatedStatus{
		OverallStatus:   StatusHealthy,
		ReadinessStatus: StatusHealthy,
		LivenessStatus:  StatusHealthy,
		Timestamp:       time.Now(),
		CheckResults:    make(map[string]*CheckResult, len(results)),
		Summary:         &StatusSummary{TotalChecks: len(results)},
	}
	for name, r := range results {
		status.CheckResults[name] = r
		status.OverallStatus = Worse(status.OverallStatus, r.Status)
		if r.Type.affectsReadiness() {
			status.ReadinessStatus = Worse(status.ReadinessStatus, r.Status)
		}
		if r.Type.affectsLiveness() {
			status.LivenessStatus = Worse(status.LivenessStatus, r.Status)
		}
		switch r.Status {
		case StatusHealthy:
			status.Summary.PassingChecks++
		case StatusWarning:
			status.Summary.WarningChecks++
		case StatusCritical:
			status.Summary.CriticalChecks++
		default:
			status.Summary.UnknownChecks++
		}
	}
	return status
}

// Monitor runs CheckAll periodically.
type Monitor struct {
	aggregator *Aggregator

	mu      sync.Mutex
	running bool
}

// NewMonitor creates a new health monitor
func NewMonitor(aggregator *Aggregator) *Monitor {
	return &Monitor{aggregator: aggregator}
}

// Run checks every interval until ctx is done. Status changes reach the
// callbacks registered with OnStatusChange.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrMonitoringAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.aggregator.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			m.aggregator.CheckAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// IsMonitoring returns true if monitoring is currently active
func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// BasicChecker adapts a function to HealthChecker.
type BasicChecker struct {
	name      string
	checkType CheckType
	checkFunc func(context.Context) error
}

// NewBasicChecker creates a new basic health checker
func NewBasicChecker(name string, checkType CheckType, checkFunc func(context.Context) error) *BasicChecker {
	return &BasicChecker{name: name, checkType: checkType, checkFunc: checkFunc}
}

func (c *BasicChecker) Check(ctx context.Context) (*CheckResult, error) {
	result := &CheckResult{Status: StatusHealthy}
	if c.checkFunc != nil {
		if err := c.checkFunc(ctx); err != nil {
			result.Status = StatusCritical
			result.Error = err.Error()
		}
	}
	return result, nil
}

func (c *BasicChecker) Name() string    { return c.name }
func (c *BasicChecker) Type() CheckType { return c.checkType }
