package health

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modhub"
)

// Prober is implemented by modules that can check their own health while
// started, e.g. a device driver pinging its hardware.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// ModuleHealth is the health of one loaded module.
type ModuleHealth struct {
	Name   string             `json:"name"`
	Type   string             `json:"type"`
	State  modhub.ModuleState `json:"state"`
	Status HealthStatus       `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// ModuleChecker is a readiness check over every loaded module:
//   - a module in ERROR is critical
//   - a failing Prober is critical
//   - an auto-start module that is not started is a warning
type ModuleChecker struct {
	reg *modhub.Registry
}

func NewModuleChecker(reg *modhub.Registry) *ModuleChecker {
	return &ModuleChecker{reg: reg}
}

func (c *ModuleChecker) Name() string    { return "modules" }
func (c *ModuleChecker) Type() CheckType { return CheckTypeReadiness }

func (c *ModuleChecker) Check(ctx context.Context) (*CheckResult, error) {
	result := &CheckResult{Status: StatusHealthy, Details: map[string]any{}}
	unhealthy := 0
	for _, m := range c.reg.LoadedModules() {
		mh := Module(ctx, m)
		result.Details[m.ID()] = mh
		result.Status = Worse(result.Status, mh.Status)
		if mh.Status != StatusHealthy {
			unhealthy++
		}
	}
	result.Message = fmt.Sprintf("%d modules, %d not healthy", len(result.Details), unhealthy)
	return result, nil
}

// Module computes the health of a single module.
func Module(ctx context.Context, m modhub.Module) ModuleHealth {
	mh := ModuleHealth{Name: m.Name(), State: m.CurrentState(), Status: StatusHealthy}
	cfg := m.Configuration()
	if cfg != nil {
		mh.Type = cfg.ModuleType
	}

	switch {
	case mh.State == modhub.StateError:
		mh.Status = StatusCritical
		if err := m.CurrentError(); err != nil {
			mh.Error = err.Error()
		}
	case mh.State == modhub.StateStarted:
		if p, ok := m.(Prober); ok {
			if err := p.HealthCheck(ctx); err != nil {
				mh.Status = StatusCritical
				mh.Error = err.Error()
			}
		}
	case cfg != nil && cfg.AutoStart:
		mh.Status = StatusWarning
	}
	return mh
}

// RegistryChecker is a liveness check failing once the registry is shut
// down.
type RegistryChecker struct {
	reg *modhub.Registry
}

func NewRegistryChecker(reg *modhub.Registry) *RegistryChecker {
	return &RegistryChecker{reg: reg}
}

func (c *RegistryChecker) Name() string    { return "registry" }
func (c *RegistryChecker) Type() CheckType { return CheckTypeLiveness }

func (c *RegistryChecker) Check(context.Context) (*CheckResult, error) {
	if c.reg.IsShutdown() {
		return &CheckResult{Status: StatusCritical, Message: "registry is shut down"}, nil
	}
	return &CheckResult{Status: StatusHealthy}, nil
}

// ForRegistry returns an aggregator with the module and registry checks
// registered.
func ForRegistry(reg *modhub.Registry, config *AggregatorConfig) *Aggregator {
	a := NewAggregator(config)
	_ = a.RegisterCheck(NewRegistryChecker(reg))
	_ = a.RegisterCheck(NewModuleChecker(reg))
	return a
}
