package modhub

import (
	"slices"
	"time"
)

// Event is anything published on the event bus: module lifecycle events and
// data events produced by modules.
type Event interface {
	// EventTime is when the event was created.
	EventTime() time.Time

	// SourceID is the id of the producer the event is about.
	SourceID() string
}

// ModuleEventType identifies the kind of a ModuleEvent.
type ModuleEventType string

const (
	// EventLoaded is published by the registry once a module is in the table.
	EventLoaded ModuleEventType = "LOADED"

	// EventStateChanged is published by a module after every state change.
	EventStateChanged ModuleEventType = "STATE_CHANGED"

	// EventError is published by a module when it records an error.
	EventError ModuleEventType = "ERROR"

	// EventUnloaded is published by the registry after a module left the table.
	EventUnloaded ModuleEventType = "UNLOADED"

	// EventDeleted is published by the registry after a module was destroyed
	// along with its configuration and persisted state.
	EventDeleted ModuleEventType = "DELETED"
)

// ModuleEvent is an immutable lifecycle notification.
type ModuleEvent struct {
	Time     time.Time
	Type     ModuleEventType
	ModuleID string

	// Module is the source module. It is nil for notifications about a
	// module that was never live, and must not be retained by listeners;
	// keep a ModuleRef instead.
	Module Module

	// NewState is set for EventStateChanged.
	NewState ModuleState

	// Err is set for EventError, and for EventStateChanged into StateError.
	Err error

	// Replay marks the synthetic event delivered to a listener when it
	// registers on a module.
	Replay bool
}

// NewModuleEvent creates a module event of the given type.
func NewModuleEvent(t ModuleEventType, m Module) *ModuleEvent {
	e := &ModuleEvent{Time: time.Now(), Type: t, Module: m}
	if m != nil {
		e.ModuleID = m.ID()
	}
	return e
}

// NewStateChangedEvent creates a STATE_CHANGED event.
func NewStateChangedEvent(m Module, state ModuleState) *ModuleEvent {
	e := NewModuleEvent(EventStateChanged, m)
	e.NewState = state
	return e
}

func (e *ModuleEvent) EventTime() time.Time { return e.Time }
func (e *ModuleEvent) SourceID() string     { return e.ModuleID }

// DataEvent carries data produced by a module (measurements, notifications).
type DataEvent struct {
	Time     time.Time
	Producer string
	Topic    string
	Data     any
}

// NewDataEvent creates a data event stamped with the current time.
func NewDataEvent(producer, topic string, data any) *DataEvent {
	return &DataEvent{Time: time.Now(), Producer: producer, Topic: topic, Data: data}
}

func (e *DataEvent) EventTime() time.Time { return e.Time }
func (e *DataEvent) SourceID() string     { return e.Producer }

// Listener receives events synchronously on the publishing goroutine. The
// publishing goroutine is usually a lifecycle task, so HandleEvent must not
// block for long and must not wait on the same module's lifecycle.
//
// Listeners are compared by identity when unregistering, so implementations
// should be pointer types.
type Listener interface {
	HandleEvent(e Event)
}

// FuncListener adapts a function to the Listener interface.
type FuncListener struct {
	fn func(Event)
}

// NewFuncListener wraps fn. Keep the returned pointer to unregister it.
func NewFuncListener(fn func(Event)) *FuncListener {
	return &FuncListener{fn: fn}
}

func (l *FuncListener) HandleEvent(e Event) { l.fn(e) }

// OnModuleEvent returns a listener invoking fn for module events about
// moduleID whose type is one of types. An empty moduleID matches every
// module and no types match every type.
//
// Dependents use it to learn that a module they rely on was deleted:
//
//	registry.RegisterListener(modhub.OnModuleEvent(id, cleanup, modhub.EventDeleted))
func OnModuleEvent(moduleID string, fn func(*ModuleEvent), types ...ModuleEventType) *FuncListener {
	return NewFuncListener(func(e Event) {
		me, ok := e.(*ModuleEvent)
		if !ok {
			return
		}
		if moduleID != "" && me.ModuleID != moduleID {
			return
		}
		if len(types) > 0 && !slices.Contains(types, me.Type) {
			return
		}
		fn(me)
	})
}
