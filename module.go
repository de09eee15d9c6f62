// Package modhub provides a runtime for pluggable modules in a long-running
// device and data integration hub.
//
// Modules (sensor drivers, storage back-ends, processing units, network
// services) are built from configuration records by registered providers
// and driven through a uniform lifecycle by the Registry:
//
//	LOADED → INITIALIZING → INITIALIZED → STARTING → STARTED → STOPPING → STOPPED
//
// with ERROR reachable from any state. Lifecycle operations run on a
// per-module serial queue so requests for one module never overlap, while
// synchronous wrappers let callers block until a target state is reached.
// State changes are published on an EventBus.
//
// Basic usage:
//
//	hub, err := modhub.NewHub(
//		modhub.WithLogger(logger),
//		modhub.WithConfigRepository(repo),
//		modhub.WithModuleDataPath(".moduledata"),
//	)
//	heartbeat.Register(hub.Providers())
//	if err := hub.Registry().LoadAllModules(); err != nil {
//		logger.Warn("Some modules failed to load", "error", err)
//	}
//	defer hub.Registry().Shutdown(true, true)
package modhub

import (
	"context"
	"time"
)

// Lifecycle holds the blocking primitives a module implementation writes.
// They do the actual work of a transition and must not return before it is
// complete or has failed. They are called by BaseModule's Request methods,
// which take care of state changes and events.
type Lifecycle interface {
	// Init prepares the module from its configuration. It may be called
	// again after Stop or after a failure to re-initialize the module.
	Init(ctx context.Context) error

	// Start makes the module operational.
	Start(ctx context.Context) error

	// Stop releases what Start and Init acquired. It must be safe to call
	// when the module was never started, or right after Init.
	Stop(ctx context.Context) error
}

// Configurable gives access to a module's configuration.
type Configurable interface {
	// Configuration returns a copy of the current configuration.
	Configuration() *ModuleConfig

	// SetConfiguration replaces the configuration without side effects.
	// The module id never changes once set.
	SetConfiguration(cfg *ModuleConfig)

	// UpdateConfig applies cfg to a live module. If the change needs a
	// restart the module performs it itself.
	UpdateConfig(ctx context.Context, cfg *ModuleConfig) error
}

// LifecycleRequester is the entry point the registry drives. When a Request
// method returns without error the module has at least entered the matching
// transitional state; reaching the terminal state is announced by a
// STATE_CHANGED event. An error means the transition could not begin, or
// failed, in which case the module is in ERROR.
type LifecycleRequester interface {
	RequestInit(ctx context.Context, force bool) error
	RequestStart(ctx context.Context) error
	RequestStop(ctx context.Context) error
}

// StateReporter exposes the lifecycle state of a module.
type StateReporter interface {
	CurrentState() ModuleState
	StatusMessage() string
	CurrentError() error

	// IsInitialized reports whether the module went through Init and has
	// not failed since.
	IsInitialized() bool
	IsStarted() bool

	// WaitForState blocks until the module is in state, returning true
	// right away if it already is. It returns false when timeout elapses or
	// when the module is in ERROR. A timeout <= 0 waits indefinitely.
	WaitForState(state ModuleState, timeout time.Duration) bool
}

// EventProducer lets listeners subscribe to a module's events. A listener
// registering on a module first receives a synthetic STATE_CHANGED event
// carrying the module's current state.
type EventProducer interface {
	RegisterListener(l Listener)
	UnregisterListener(l Listener)
}

// Persistent modules keep runtime state across restarts. The registry calls
// LoadState after every successful initialization, SaveState on request or
// at shutdown and Cleanup when the module is destroyed.
type Persistent interface {
	SaveState(sm StateManager) error
	LoadState(sm StateManager) error
	Cleanup() error
}

// Module is the runtime contract of every pluggable module. Implementations
// embed *BaseModule and supply the Lifecycle methods:
//
//	type Probe struct {
//		*modhub.BaseModule
//	}
//
//	func NewProbe(hub *modhub.Hub, cfg *modhub.ModuleConfig) (*Probe, error) {
//		p := &Probe{}
//		p.BaseModule = modhub.NewBaseModule(hub, p)
//		return p, nil
//	}
type Module interface {
	Lifecycle
	Configurable
	LifecycleRequester
	StateReporter
	EventProducer
	Persistent

	// ID returns the immutable module identifier from the configuration.
	ID() string

	// Name returns the human-readable module name.
	Name() string

	// InitWithConfig sets the configuration and calls Init directly,
	// without state changes or events.
	InitWithConfig(ctx context.Context, cfg *ModuleConfig) error
}

// Entity is implemented by modules that stand for a uniquely identified
// real-world thing, such as a physical sensor. The registry indexes them by
// unique identifier.
type Entity interface {
	UniqueIdentifier() string
}
