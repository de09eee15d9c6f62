package modhub

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/GoCodeAlone/modhub/lifecycle"
	"github.com/GoCodeAlone/modhub/registry"
)

// Registry owns every live module. It instantiates modules from
// configuration, drives their lifecycle on a per-module serial queue,
// restores their state after initialization and republishes their events
// under RegistryProducerID.
type Registry struct {
	hub           *Hub
	logger        Logger
	bus           *EventBus
	events        *EventHandler
	providers     *ProviderRegistry
	repo          ConfigRepository
	stateManagers StateManagerFactory

	modules  *registry.Table[Module]
	entities *EntityIndex
	indexes  []ModuleIndex

	dispatcher *lifecycle.Dispatcher
	loads      singleflight.Group
	listener   *registryListener

	shutdownTimeout time.Duration
	pollInterval    time.Duration

	// held shared by loads and exclusively while shutdown raises the flag,
	// so no load slips into the table after shutdown started
	lifeMu       sync.RWMutex
	shuttingDown atomic.Bool

	gateMu    sync.Mutex
	allLoaded chan struct{}
}

func newRegistry(h *Hub) *Registry {
	r := &Registry{
		hub:             h,
		logger:          h.logger,
		bus:             h.bus,
		events:          h.bus.RegisterProducer(RegistryProducerID),
		providers:       h.providers,
		repo:            h.repo,
		stateManagers:   h.stateManagers,
		modules:         registry.NewTable[Module](),
		entities:        NewEntityIndex(),
		indexes:         h.indexes,
		shutdownTimeout: h.shutdownTimeout,
		pollInterval:    h.pollInterval,
	}
	r.listener = &registryListener{r: r}
	r.dispatcher = lifecycle.NewDispatcher(&lifecycle.DispatchConfig{
		IdleTimeout: h.idleTimeout,
		OnPanic: func(key, name string, recovered any) {
			r.logger.Error("Lifecycle task panicked", "id", key, "task", name, "panic", recovered)
		},
	})

	gate := make(chan struct{})
	close(gate)
	r.allLoaded = gate
	return r
}

// RegisterListener subscribes l to every module event and to the registry's
// own notifications.
func (r *Registry) RegisterListener(l Listener) { r.events.RegisterListener(l) }

// UnregisterListener removes a listener added with RegisterListener.
func (r *Registry) UnregisterListener(l Listener) { r.events.UnregisterListener(l) }

// Entities returns the index of Entity modules.
func (r *Registry) Entities() *EntityIndex { return r.entities }

// LoadAllModules loads every configuration of the repository. Failures are
// logged and collected; they do not stop the remaining loads.
func (r *Registry) LoadAllModules() error {
	if r.repo == nil {
		return ErrNoConfigRepository
	}

	gate := make(chan struct{})
	r.gateMu.Lock()
	r.allLoaded = gate
	r.gateMu.Unlock()
	defer close(gate)

	configs, err := r.repo.GetAllModulesConfigurations()
	if err != nil {
		return fmt.Errorf("failed to read module configurations: %w", err)
	}

	var errs error
	for _, cfg := range configs {
		if _, err := r.LoadModuleAsync(cfg, nil); err != nil {
			r.logger.Error("Cannot load module", "module", cfg.Name, "id", cfg.ID, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// WaitForAllModulesLoaded blocks until the LoadAllModules call in progress,
// if any, has gone through every configuration.
func (r *Registry) WaitForAllModulesLoaded(ctx context.Context) error {
	r.gateMu.Lock()
	gate := r.allLoaded
	r.gateMu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadModule loads the module described by cfg and, if it auto-starts,
// waits up to timeout for it to reach STARTED. A timeout <= 0 waits
// indefinitely.
func (r *Registry) LoadModule(cfg *ModuleConfig, timeout time.Duration) (Module, error) {
	m, started, err := r.loadModule(cfg, nil)
	if err != nil {
		return nil, err
	}
	if !cfg.AutoStart {
		return m, nil
	}
	if err := r.await(m, OpStart, StateStarted, started, timeout); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadModuleAsync instantiates the module described by cfg, assigning a new
// id to cfg when it has none, and registers l on it. Loading an id that is
// already live returns the live module untouched. Modules flagged for
// auto-start are started in the background.
func (r *Registry) LoadModuleAsync(cfg *ModuleConfig, l Listener) (Module, error) {
	m, _, err := r.loadModule(cfg, l)
	return m, err
}

type loadResult struct {
	module  Module
	started <-chan struct{}
}

func (r *Registry) loadModule(cfg *ModuleConfig, l Listener) (Module, <-chan struct{}, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInstantiationFailure, ErrMissingConfiguration)
	}

	r.lifeMu.RLock()
	defer r.lifeMu.RUnlock()
	if r.shuttingDown.Load() {
		return nil, nil, idError(OpLoad, cfg.ID, ErrShutdownRejected)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	listenerAttached := false
	v, err, _ := r.loads.Do(cfg.ID, func() (any, error) {
		if m, ok := r.modules.Get(cfg.ID); ok {
			return loadResult{module: m}, nil
		}

		m, err := r.providers.Create(r.hub, cfg.Clone())
		if err != nil {
			return nil, &ModuleError{Op: OpLoad, ModuleID: cfg.ID, ModuleName: cfg.Name, Err: err}
		}
		m.SetConfiguration(cfg.Clone())

		m.RegisterListener(r.listener)
		if l != nil {
			m.RegisterListener(l)
			listenerAttached = true
		}
		r.modules.Put(m.ID(), m)
		r.logger.Info("Module loaded", "module", m.Name(), "id", m.ID(), "type", cfg.ModuleType)
		r.events.PublishEvent(NewModuleEvent(EventLoaded, m))

		res := loadResult{module: m}
		if cfg.AutoStart {
			started, err := r.submit(m, OpStart, func(ctx context.Context) { r.runStart(ctx, m) })
			if err != nil {
				r.logger.Error("Cannot start module", "module", m.Name(), "id", m.ID(), "error", err)
			}
			res.started = started
		}
		return res, nil
	})
	if err != nil {
		return nil, nil, err
	}

	res := v.(loadResult)
	if l != nil && !listenerAttached {
		res.module.RegisterListener(l)
	}
	return res.module, res.started, nil
}

// ModuleByID returns the live module with the given id, loading it from the
// config repository if needed.
func (r *Registry) ModuleByID(id string) (Module, error) {
	if m, ok := r.modules.Get(id); ok {
		return m, nil
	}
	if r.repo == nil || !r.repo.Contains(id) {
		return nil, idError(OpFind, id, ErrUnknownModule)
	}
	cfg, err := r.repo.Get(id)
	if err != nil {
		return nil, idError(OpFind, id, kindError(ErrUnknownModule, err))
	}
	return r.LoadModuleAsync(cfg, nil)
}

// LoadedModule returns the live module with the given id without loading.
func (r *Registry) LoadedModule(id string) (Module, bool) {
	return r.modules.Get(id)
}

// IsModuleLoaded reports whether id is live.
func (r *Registry) IsModuleLoaded(id string) bool {
	return r.modules.Contains(id)
}

// LoadedModules returns the live modules in load order.
func (r *Registry) LoadedModules() []Module {
	return r.modules.Values()
}

// LoadedModulesOf returns the live modules implementing T.
func LoadedModulesOf[T any](r *Registry) []T {
	var out []T
	for _, m := range r.modules.Values() {
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// AvailableModules returns every configuration of the repository, live or
// not.
func (r *Registry) AvailableModules() ([]*ModuleConfig, error) {
	if r.repo == nil {
		return nil, ErrNoConfigRepository
	}
	return r.repo.GetAllModulesConfigurations()
}

// AvailableModulesOf returns the configurations whose provider builds
// modules assignable to T.
func AvailableModulesOf[T any](r *Registry) ([]*ModuleConfig, error) {
	configs, err := r.AvailableModules()
	if err != nil {
		return nil, err
	}
	target := reflect.TypeFor[T]()
	var out []*ModuleConfig
	for _, cfg := range configs {
		if p, ok := r.providers.Lookup(cfg.ModuleType); ok && p.Builds(target) {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// InstalledModuleTypes returns every installed provider.
func (r *Registry) InstalledModuleTypes() []*Provider {
	return r.providers.Installed()
}

// InstalledModuleTypesOf returns the installed providers building modules
// assignable to T.
func InstalledModuleTypesOf[T any](r *Registry) []*Provider {
	return ProvidersOf[T](r.providers)
}

// CreateModuleConfig returns a fresh configuration for the given type tag,
// with a new id and the provider's default options. It is not stored.
func (r *Registry) CreateModuleConfig(typeTag string) (*ModuleConfig, error) {
	p, ok := r.providers.Lookup(typeTag)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModuleType, typeTag)
	}
	cfg := &ModuleConfig{
		ID:         uuid.NewString(),
		Name:       "New " + p.Name,
		ModuleType: p.Type,
	}
	if p.DefaultOptions != nil {
		if err := cfg.SetOptions(p.DefaultOptions()); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// StateManager returns the state manager scoped to a module id.
func (r *Registry) StateManager(moduleID string) (StateManager, error) {
	if r.stateManagers == nil {
		return nil, ErrNoStateManager
	}
	return r.stateManagers(moduleID)
}

// SaveModulesConfiguration writes the configuration of every live module to
// the repository, removes the records of modules that are no longer live,
// and commits.
func (r *Registry) SaveModulesConfiguration() error {
	if r.repo == nil {
		return ErrNoConfigRepository
	}

	live := r.modules.Values()
	configs := make([]*ModuleConfig, 0, len(live))
	for _, m := range live {
		configs = append(configs, m.Configuration())
	}
	if err := r.repo.Update(configs...); err != nil {
		return fmt.Errorf("failed to update module configurations: %w", err)
	}

	stored, err := r.repo.GetAllModulesConfigurations()
	if err != nil {
		return fmt.Errorf("failed to read module configurations: %w", err)
	}
	var stale []string
	for _, cfg := range stored {
		if !r.modules.Contains(cfg.ID) {
			stale = append(stale, cfg.ID)
		}
	}
	if len(stale) > 0 {
		if err := r.repo.Remove(stale...); err != nil {
			return fmt.Errorf("failed to remove stale module configurations: %w", err)
		}
	}
	return r.repo.Commit()
}

// SaveConfiguration stores the given configurations and commits.
func (r *Registry) SaveConfiguration(configs ...*ModuleConfig) error {
	if r.repo == nil {
		return ErrNoConfigRepository
	}
	if err := r.repo.Update(configs...); err != nil {
		return err
	}
	return r.repo.Commit()
}

// SaveModuleState saves the state of a live module and flushes it.
func (r *Registry) SaveModuleState(id string) error {
	m, ok := r.modules.Get(id)
	if !ok {
		return idError(OpSave, id, ErrUnknownModule)
	}
	return r.saveState(m)
}

// SaveAllModuleStates saves the state of every live module, continuing past
// failures.
func (r *Registry) SaveAllModuleStates() error {
	var errs error
	for _, m := range r.modules.Values() {
		if err := r.saveState(m); err != nil {
			r.logger.Error("State could not be saved", "module", m.Name(), "id", m.ID(), "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Registry) saveState(m Module) error {
	sm, err := r.StateManager(m.ID())
	if err != nil {
		return moduleError(OpSave, m, err)
	}
	if err := m.SaveState(sm); err != nil {
		return moduleError(OpSave, m, err)
	}
	if err := sm.Flush(); err != nil {
		return moduleError(OpSave, m, err)
	}
	return nil
}

// afterInit restores persisted state and indexes the module. It runs on
// the lifecycle task, before the INITIALIZED event reaches other listeners.
func (r *Registry) afterInit(m Module) {
	sm, err := r.StateManager(m.ID())
	switch {
	case errors.Is(err, ErrNoStateManager):
	case err != nil:
		r.logger.Error("Cannot open module state", "module", m.Name(), "id", m.ID(), "error", err)
	default:
		if err := m.LoadState(sm); err != nil {
			r.logger.Error("Cannot load module state", "module", m.Name(), "id", m.ID(), "error", moduleError(OpRestore, m, err))
		}
	}

	r.entities.Add(m)
	for _, idx := range r.indexes {
		idx.Add(m)
	}
}

func (r *Registry) unindex(id string) {
	r.entities.Remove(id)
	for _, idx := range r.indexes {
		idx.Remove(id)
	}
}
