package modhub

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BaseModule implements everything in Module except the Lifecycle
// primitives. It owns the module state, guards it so readers can wait on
// it, and publishes a STATE_CHANGED event after every change.
type BaseModule struct {
	self   Module
	hub    *Hub
	logger Logger

	// serializes Request* calls made outside the registry queue
	lifecycleMu sync.Mutex

	cfgMu  sync.RWMutex
	config *ModuleConfig

	stateMu   sync.Mutex
	state     ModuleState
	statusMsg string
	lastErr   error
	changed   chan struct{}

	// orders the replay of a new listener against state changes
	replayMu sync.Mutex

	handlerMu sync.Mutex
	handler   *EventHandler
}

// NewBaseModule creates the base of module m, which must be the value
// embedding the returned BaseModule. hub may be nil in tests; events are
// then published through a private handler.
func NewBaseModule(hub *Hub, m Module) *BaseModule {
	b := &BaseModule{
		self:    m,
		hub:     hub,
		logger:  NopLogger(),
		state:   StateLoaded,
		changed: make(chan struct{}),
	}
	if hub != nil {
		b.logger = hub.Logger()
	}
	return b
}

// Hub returns the hub the module was built for.
func (b *BaseModule) Hub() *Hub { return b.hub }

// Logger returns the hub logger, or a no-op logger.
func (b *BaseModule) Logger() Logger { return b.logger }

func (b *BaseModule) ID() string {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	if b.config == nil {
		return ""
	}
	return b.config.ID
}

func (b *BaseModule) Name() string {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	switch {
	case b.config == nil:
		return ""
	case b.config.Name != "":
		return b.config.Name
	default:
		return b.config.ID
	}
}

func (b *BaseModule) Configuration() *ModuleConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.config.Clone()
}

func (b *BaseModule) SetConfiguration(cfg *ModuleConfig) {
	if cfg == nil {
		return
	}
	next := cfg.Clone()

	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()
	if b.config != nil && b.config.ID != "" && next.ID != b.config.ID {
		b.logger.Warn("Ignoring module id change", "id", b.config.ID, "requested", next.ID)
		next.ID = b.config.ID
	}
	b.config = next
}

// UpdateConfig stores cfg and, if the module is running, restarts it so
// Init and Start see the new values.
func (b *BaseModule) UpdateConfig(ctx context.Context, cfg *ModuleConfig) error {
	if cfg == nil {
		return moduleError(OpUpdate, b.self, ErrMissingConfiguration)
	}
	wasStarted := b.IsStarted()
	b.SetConfiguration(cfg)
	if !wasStarted {
		return nil
	}

	if err := b.RequestStop(ctx); err != nil {
		return err
	}
	if err := b.RequestInit(ctx, true); err != nil {
		return err
	}
	return b.RequestStart(ctx)
}

func (b *BaseModule) InitWithConfig(ctx context.Context, cfg *ModuleConfig) error {
	b.SetConfiguration(cfg)
	return b.self.Init(ctx)
}

func (b *BaseModule) CurrentState() ModuleState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.state
}

func (b *BaseModule) StatusMessage() string {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.statusMsg
}

func (b *BaseModule) CurrentError() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.lastErr
}

func (b *BaseModule) IsInitialized() bool {
	return isInitializedState(b.CurrentState())
}

func (b *BaseModule) IsStarted() bool {
	return b.CurrentState() == StateStarted
}

func isInitializedState(s ModuleState) bool {
	return s >= StateInitialized && s <= StateStopped
}

func (b *BaseModule) WaitForState(target ModuleState, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		b.stateMu.Lock()
		state, changed := b.state, b.changed
		b.stateMu.Unlock()

		if state == target {
			return true
		}
		if state == StateError {
			return false
		}

		select {
		case <-changed:
		case <-expired:
			return false
		}
	}
}

// RequestInit initializes the module. Without force it does nothing if the
// module is already initialized. A running module must be stopped before a
// forced re-initialization.
func (b *BaseModule) RequestInit(ctx context.Context, force bool) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.ID() == "" {
		return moduleError(OpInit, b.self, ErrMissingConfiguration)
	}
	state := b.CurrentState()
	if !force && isInitializedState(state) {
		return nil
	}
	if !CanTransition(state, StateInitializing) {
		return moduleError(OpInit, b.self, fmt.Errorf("%w: from %s", ErrInvalidTransition, state))
	}

	b.setState(StateInitializing, nil)
	if err := guard(func() error { return b.self.Init(ctx) }); err != nil {
		return b.fail(OpInit, err)
	}
	b.setState(StateInitialized, nil)
	return nil
}

func (b *BaseModule) RequestStart(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	state := b.CurrentState()
	switch {
	case state == StateStarted || state == StateStarting:
		return nil
	case state == StateLoaded || state == StateError:
		return moduleError(OpStart, b.self, ErrNotInitialized)
	case !CanTransition(state, StateStarting):
		return moduleError(OpStart, b.self, fmt.Errorf("%w: from %s", ErrInvalidTransition, state))
	}

	b.setState(StateStarting, nil)
	if err := guard(func() error { return b.self.Start(ctx) }); err != nil {
		return b.fail(OpStart, err)
	}
	b.setState(StateStarted, nil)
	return nil
}

func (b *BaseModule) RequestStop(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	state := b.CurrentState()
	if state == StateStopped || state == StateStopping {
		return nil
	}

	b.setState(StateStopping, nil)
	if err := guard(func() error { return b.self.Stop(ctx) }); err != nil {
		return b.fail(OpStop, err)
	}
	b.setState(StateStopped, nil)
	return nil
}

// guard turns a panic in a lifecycle primitive into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// fail records err, moves the module to ERROR and releases waiters.
func (b *BaseModule) fail(op string, err error) error {
	merr := moduleError(op, b.self, kindError(ErrTransitionFailure, err))

	b.stateMu.Lock()
	b.lastErr = merr
	b.statusMsg = merr.Error()
	b.stateMu.Unlock()

	b.setState(StateError, merr)
	e := NewModuleEvent(EventError, b.self)
	e.Err = merr
	b.events().PublishEvent(e)
	return merr
}

func (b *BaseModule) setState(s ModuleState, err error) {
	h := b.events()
	b.replayMu.Lock()
	b.stateMu.Lock()
	if b.state == StateError && s != StateError {
		// a new attempt clears the previous failure
		b.lastErr = nil
		b.statusMsg = ""
	}
	b.state = s
	close(b.changed)
	b.changed = make(chan struct{})
	b.stateMu.Unlock()
	// listeners registering from here on get s as their replay instead
	listeners := h.snapshot()
	b.replayMu.Unlock()

	e := NewStateChangedEvent(b.self, s)
	e.Err = err
	h.deliverAll(listeners, e)
}

// ReportStatus sets the status message shown alongside the module state.
func (b *BaseModule) ReportStatus(msg string) {
	b.stateMu.Lock()
	b.statusMsg = msg
	b.stateMu.Unlock()
	b.logger.Debug("Module status", "module", b.Name(), "status", msg)
}

// ReportError records an error that does not change the lifecycle state,
// such as a lost connection the module is retrying, and publishes an ERROR
// event.
func (b *BaseModule) ReportError(msg string, err error) {
	reported := fmt.Errorf("%s: %w", msg, err)

	b.stateMu.Lock()
	b.lastErr = reported
	b.statusMsg = msg
	b.stateMu.Unlock()

	b.logger.Error(msg, "module", b.Name(), "id", b.ID(), "error", err)
	e := NewModuleEvent(EventError, b.self)
	e.Err = reported
	b.events().PublishEvent(e)
}

// ClearError forgets the last reported error.
func (b *BaseModule) ClearError() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.lastErr = nil
}

// PublishEvent publishes a data event, or any other event, on the module's
// producer.
func (b *BaseModule) PublishEvent(e Event) {
	b.events().PublishEvent(e)
}

// EventHandler returns the module's producer handle.
func (b *BaseModule) EventHandler() *EventHandler {
	return b.events()
}

func (b *BaseModule) events() *EventHandler {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	if b.handler == nil {
		if b.hub != nil {
			b.handler = b.hub.EventBus().RegisterProducer(b.ID())
		} else {
			b.handler = NewEventHandler(b.ID(), b.logger)
		}
	}
	return b.handler
}

func (b *BaseModule) RegisterListener(l Listener) {
	if l == nil {
		return
	}
	h := b.events()

	b.replayMu.Lock()
	defer b.replayMu.Unlock()
	if !h.RegisterListener(l) {
		return
	}
	e := NewStateChangedEvent(b.self, b.CurrentState())
	e.Replay = true
	h.deliver(l, e)
}

func (b *BaseModule) UnregisterListener(l Listener) {
	b.events().UnregisterListener(l)
}

// SaveState does nothing; stateful modules override it.
func (b *BaseModule) SaveState(StateManager) error { return nil }

// LoadState does nothing; stateful modules override it.
func (b *BaseModule) LoadState(StateManager) error { return nil }

// Cleanup does nothing; modules holding external resources override it.
func (b *BaseModule) Cleanup() error { return nil }
