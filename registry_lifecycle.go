package modhub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/GoCodeAlone/modhub/lifecycle"
)

// InitModule initializes a module and waits up to timeout for INITIALIZED.
// With force, a module that is already initialized is stopped and
// initialized again.
func (r *Registry) InitModule(id string, force bool, timeout time.Duration) (Module, error) {
	m, done, err := r.requestInit(id, force, nil)
	if err != nil {
		return nil, err
	}
	if err := r.await(m, OpInit, StateInitialized, done, timeout); err != nil {
		return nil, err
	}
	return m, nil
}

// InitModuleAsync queues the initialization of a module and returns at once.
func (r *Registry) InitModuleAsync(id string, force bool, l Listener) (Module, error) {
	m, _, err := r.requestInit(id, force, l)
	return m, err
}

func (r *Registry) requestInit(id string, force bool, l Listener) (Module, <-chan struct{}, error) {
	m, err := r.moduleForRequest(OpInit, id, l)
	if err != nil {
		return nil, nil, err
	}
	done, err := r.submit(m, OpInit, func(ctx context.Context) { r.runInit(ctx, m, force) })
	return m, done, err
}

// StartModule starts a module, initializing it first if needed, and waits up
// to timeout for STARTED.
func (r *Registry) StartModule(id string, timeout time.Duration) (Module, error) {
	m, done, err := r.requestStart(id, nil)
	if err != nil {
		return nil, err
	}
	if err := r.await(m, OpStart, StateStarted, done, timeout); err != nil {
		return nil, err
	}
	return m, nil
}

// StartModuleAsync queues the start of a module and returns at once.
func (r *Registry) StartModuleAsync(id string, l Listener) (Module, error) {
	m, _, err := r.requestStart(id, l)
	return m, err
}

func (r *Registry) requestStart(id string, l Listener) (Module, <-chan struct{}, error) {
	m, err := r.moduleForRequest(OpStart, id, l)
	if err != nil {
		return nil, nil, err
	}
	done, err := r.submit(m, OpStart, func(ctx context.Context) { r.runStart(ctx, m) })
	return m, done, err
}

// StopModule stops a module and waits up to timeout for STOPPED.
func (r *Registry) StopModule(id string, timeout time.Duration) (Module, error) {
	m, done, err := r.requestStop(id, nil)
	if err != nil {
		return nil, err
	}
	if err := r.await(m, OpStop, StateStopped, done, timeout); err != nil {
		return nil, err
	}
	return m, nil
}

// StopModuleAsync queues the stop of a module and returns at once.
func (r *Registry) StopModuleAsync(id string, l Listener) (Module, error) {
	m, _, err := r.requestStop(id, l)
	return m, err
}

func (r *Registry) requestStop(id string, l Listener) (Module, <-chan struct{}, error) {
	m, err := r.moduleForRequest(OpStop, id, l)
	if err != nil {
		return nil, nil, err
	}
	done, err := r.submit(m, OpStop, func(ctx context.Context) { r.runStop(ctx, m) })
	return m, done, err
}

// RestartModule restarts a module and waits up to timeout for STARTED.
func (r *Registry) RestartModule(id string, timeout time.Duration) (Module, error) {
	m, done, err := r.requestRestart(id, nil)
	if err != nil {
		return nil, err
	}
	if err := r.await(m, OpRestart, StateStarted, done, timeout); err != nil {
		return nil, err
	}
	return m, nil
}

// RestartModuleAsync queues a stop followed by a start as one task, so no
// other request for the module runs in between.
func (r *Registry) RestartModuleAsync(id string, l Listener) (Module, error) {
	m, _, err := r.requestRestart(id, l)
	return m, err
}

func (r *Registry) requestRestart(id string, l Listener) (Module, <-chan struct{}, error) {
	m, err := r.moduleForRequest(OpRestart, id, l)
	if err != nil {
		return nil, nil, err
	}
	done, err := r.submit(m, OpRestart, func(ctx context.Context) {
		if r.runStop(ctx, m) {
			r.runStart(ctx, m)
		}
	})
	return m, done, err
}

// UpdateModuleConfigAsync queues UpdateConfig on the module with cfg's id.
func (r *Registry) UpdateModuleConfigAsync(cfg *ModuleConfig) error {
	if cfg == nil || cfg.ID == "" {
		return ErrMissingModuleID
	}
	m, err := r.moduleForRequest(OpUpdate, cfg.ID, nil)
	if err != nil {
		return err
	}
	update := cfg.Clone()
	_, err = r.submit(m, OpUpdate, func(ctx context.Context) {
		if err := m.UpdateConfig(ctx, update); err != nil {
			r.logger.Error("Cannot update module configuration", "module", m.Name(), "id", m.ID(), "error", err)
		}
	})
	return err
}

// UnloadModule stops a module, waiting at most the shutdown timeout, and
// removes it from the registry. Its configuration and state are kept.
// Unloading a module that is configured but not live does nothing.
func (r *Registry) UnloadModule(id string) error {
	if r.shuttingDown.Load() {
		return idError(OpUnload, id, ErrShutdownRejected)
	}
	m, ok := r.modules.Get(id)
	if !ok {
		if r.repo != nil && r.repo.Contains(id) {
			return nil
		}
		return idError(OpUnload, id, ErrUnknownModule)
	}

	done, err := r.submit(m, OpStop, func(ctx context.Context) { r.runStop(ctx, m) })
	if err == nil {
		err = r.await(m, OpStop, StateStopped, done, r.shutdownTimeout)
	}
	if err != nil {
		return moduleError(OpUnload, m, err)
	}
	// a concurrent unload or destroy got there first
	if !r.detach(m) {
		return nil
	}
	r.logger.Info("Module unloaded", "module", m.Name(), "id", id)
	r.notify(EventUnloaded, id, m)
	return nil
}

// DestroyModule removes every trace of a module: its configuration, its
// live instance and its persisted state. The id must be live or known to
// the config repository. Dependents learn about it through a DELETED event.
func (r *Registry) DestroyModule(id string) error {
	m, live := r.modules.Get(id)
	configured := r.repo != nil && r.repo.Contains(id)
	if !live && !configured {
		return idError(OpDestroy, id, ErrUnknownModule)
	}

	var errs error
	if configured {
		errs = multierr.Append(errs, r.repo.Remove(id))
		errs = multierr.Append(errs, r.repo.Commit())
	}

	if live {
		done, err := r.submit(m, OpStop, func(ctx context.Context) { r.runStop(ctx, m) })
		if err == nil {
			err = r.await(m, OpStop, StateStopped, done, r.shutdownTimeout)
		}
		if err != nil {
			r.logger.Warn("Module not stopped before destruction", "module", m.Name(), "id", id, "error", err)
			errs = multierr.Append(errs, err)
		}
		r.detach(m)
	}

	sm, err := r.StateManager(id)
	switch {
	case errors.Is(err, ErrNoStateManager):
	case err != nil:
		errs = multierr.Append(errs, err)
	default:
		errs = multierr.Append(errs, sm.Cleanup())
	}

	if live {
		errs = multierr.Append(errs, m.Cleanup())
	}

	r.logger.Info("Module destroyed", "id", id)
	r.notify(EventDeleted, id, m)
	if errs != nil {
		return idError(OpDestroy, id, errs)
	}
	return nil
}

// detach forgets m and reports whether m was still the live instance for
// its id.
func (r *Registry) detach(m Module) bool {
	if !r.modules.RemoveFunc(m.ID(), func(v Module) bool { return v == m }) {
		return false
	}
	m.UnregisterListener(r.listener)
	r.unindex(m.ID())
	return true
}

// notify publishes a registry notification on the module's producer, for
// dependents subscribed to that id, and on the registry producer. UNLOADED
// and DELETED retire the module's producer.
func (r *Registry) notify(t ModuleEventType, id string, m Module) {
	e := &ModuleEvent{Time: time.Now(), Type: t, ModuleID: id, Module: m}
	r.bus.Publish(id, e)
	r.events.PublishEvent(e)
	if t == EventUnloaded || t == EventDeleted {
		r.bus.UnregisterProducer(id)
	}
}

// moduleForRequest resolves id for a lifecycle request and attaches l.
func (r *Registry) moduleForRequest(op, id string, l Listener) (Module, error) {
	if r.shuttingDown.Load() {
		return nil, idError(op, id, ErrShutdownRejected)
	}
	m, err := r.ModuleByID(id)
	if err != nil {
		return nil, err
	}
	if l != nil {
		m.RegisterListener(l)
	}
	return m, nil
}

func (r *Registry) submit(m Module, op string, task lifecycle.Task) (<-chan struct{}, error) {
	done, err := r.dispatcher.Submit(m.ID(), op, task)
	if errors.Is(err, lifecycle.ErrDispatcherClosed) {
		return nil, moduleError(op, m, ErrShutdownRejected)
	}
	if err != nil {
		return nil, moduleError(op, m, err)
	}
	return done, nil
}

func (r *Registry) runInit(ctx context.Context, m Module, force bool) bool {
	if force {
		if err := m.RequestStop(ctx); err != nil {
			r.logger.Error("Cannot stop module", "module", m.Name(), "id", m.ID(), "error", err)
		}
	}
	if err := m.RequestInit(ctx, force); err != nil {
		r.logger.Error("Cannot initialize module", "module", m.Name(), "id", m.ID(), "error", err)
		return false
	}
	return true
}

func (r *Registry) runStart(ctx context.Context, m Module) bool {
	if !m.IsInitialized() && !r.runInit(ctx, m, false) {
		return false
	}
	if err := m.RequestStart(ctx); err != nil {
		r.logger.Error("Cannot start module", "module", m.Name(), "id", m.ID(), "error", err)
		return false
	}
	return true
}

func (r *Registry) runStop(ctx context.Context, m Module) bool {
	if err := m.RequestStop(ctx); err != nil {
		r.logger.Error("Cannot stop module", "module", m.Name(), "id", m.ID(), "error", err)
		return false
	}
	return true
}

// await waits for the task behind done to finish and then for m to reach
// target, all within timeout. The task keeps running if the wait expires.
func (r *Registry) await(m Module, op string, target ModuleState, done <-chan struct{}, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	timedOut := func() error {
		return moduleError(op, m, fmt.Errorf("%w %s in the requested time frame", ErrTimeout, target))
	}

	if done != nil {
		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-done:
		case <-expired:
			return timedOut()
		}
	}

	failed := func() error {
		return moduleError(op, m, kindError(ErrTransitionFailure, m.CurrentError()))
	}
	if m.CurrentState() == StateError {
		return failed()
	}
	if target == StateInitialized && m.IsInitialized() {
		return nil
	}

	remaining := time.Duration(0)
	if timeout > 0 {
		remaining = max(time.Until(deadline), time.Millisecond)
	}
	if m.WaitForState(target, remaining) {
		return nil
	}
	if m.CurrentState() == StateError {
		return failed()
	}
	return timedOut()
}

// registryListener receives the events of every live module.
type registryListener struct {
	r *Registry
}

func (l *registryListener) HandleEvent(e Event) {
	me, ok := e.(*ModuleEvent)
	if !ok {
		return
	}
	// the replay delivered on registration only repeats LOADED
	if me.Replay {
		return
	}

	r := l.r
	switch me.Type {
	case EventStateChanged:
		r.logState(me)
		if me.NewState == StateInitialized && me.Module != nil {
			r.afterInit(me.Module)
		}
	case EventError:
		r.logger.Debug("Module reported an error", "id", me.ModuleID, "error", me.Err)
	}
	r.events.PublishEvent(me)
}

func (r *Registry) logState(e *ModuleEvent) {
	name := e.ModuleID
	if e.Module != nil {
		name = e.Module.Name()
	}
	switch e.NewState {
	case StateInitializing:
		r.logger.Debug("Initializing module", "module", name, "id", e.ModuleID)
	case StateInitialized:
		r.logger.Info("Module initialized", "module", name, "id", e.ModuleID)
	case StateStarting:
		r.logger.Debug("Starting module", "module", name, "id", e.ModuleID)
	case StateStarted:
		r.logger.Info("Module started", "module", name, "id", e.ModuleID)
	case StateStopping:
		r.logger.Debug("Stopping module", "module", name, "id", e.ModuleID)
	case StateStopped:
		r.logger.Info("Module stopped", "module", name, "id", e.ModuleID)
	case StateError:
		r.logger.Error("Module failed", "module", name, "id", e.ModuleID, "error", e.Err)
	}
}
