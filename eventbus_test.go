package modhub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingListener struct {
	mu     sync.Mutex
	name   string
	order  *[]string
	events []Event
}

func (l *collectingListener) HandleEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if l.order != nil {
		*l.order = append(*l.order, l.name)
	}
}

func (l *collectingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestEventHandler(t *testing.T) {
	t.Run("should deliver in registration order", func(t *testing.T) {
		h := NewEventHandler("p", nil)
		var order []string
		first := &collectingListener{name: "first", order: &order}
		second := &collectingListener{name: "second", order: &order}
		require.True(t, h.RegisterListener(first))
		require.True(t, h.RegisterListener(second))

		h.PublishEvent(NewDataEvent("p", "temp", 21.5))
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("should ignore duplicate registrations", func(t *testing.T) {
		h := NewEventHandler("p", nil)
		l := &collectingListener{}
		assert.True(t, h.RegisterListener(l))
		assert.False(t, h.RegisterListener(l))
		assert.False(t, h.RegisterListener(nil))
		assert.Equal(t, 1, h.ListenerCount())

		h.PublishEvent(NewDataEvent("p", "x", nil))
		assert.Equal(t, 1, l.count())
	})

	t.Run("should stop delivering after unregistration", func(t *testing.T) {
		h := NewEventHandler("p", nil)
		l := &collectingListener{}
		h.RegisterListener(l)
		assert.True(t, h.UnregisterListener(l))
		assert.False(t, h.UnregisterListener(l))

		h.PublishEvent(NewDataEvent("p", "x", nil))
		assert.Zero(t, l.count())
	})

	t.Run("should survive a panicking listener", func(t *testing.T) {
		h := NewEventHandler("p", nil)
		after := &collectingListener{}
		h.RegisterListener(NewFuncListener(func(Event) { panic("boom") }))
		h.RegisterListener(after)

		assert.NotPanics(t, func() { h.PublishEvent(NewDataEvent("p", "x", nil)) })
		assert.Equal(t, 1, after.count())
	})

	t.Run("should allow a listener to unregister itself while handling", func(t *testing.T) {
		h := NewEventHandler("p", nil)
		var self *FuncListener
		calls := 0
		self = NewFuncListener(func(Event) {
			calls++
			h.UnregisterListener(self)
		})
		h.RegisterListener(self)

		h.PublishEvent(NewDataEvent("p", "x", nil))
		h.PublishEvent(NewDataEvent("p", "x", nil))
		assert.Equal(t, 1, calls)
	})
}

func TestEventBus(t *testing.T) {
	t.Run("should return the same handle for a producer", func(t *testing.T) {
		bus := NewEventBus(nil)
		a := bus.RegisterProducer("a")
		assert.Same(t, a, bus.RegisterProducer("a"))
		assert.Equal(t, "a", a.ProducerID())
		assert.Equal(t, []string{"a"}, bus.Producers())
	})

	t.Run("should route to the producer's listeners only", func(t *testing.T) {
		bus := NewEventBus(nil)
		bus.RegisterProducer("a")
		bus.RegisterProducer("b")
		la, lb := &collectingListener{}, &collectingListener{}
		bus.RegisterListener("a", la)
		bus.RegisterListener("b", lb)

		bus.Publish("a", NewDataEvent("a", "x", 1))
		assert.Equal(t, 1, la.count())
		assert.Zero(t, lb.count())
	})

	t.Run("should drop events of unknown producers", func(t *testing.T) {
		bus := NewEventBus(nil)
		assert.NotPanics(t, func() { bus.Publish("ghost", NewDataEvent("ghost", "x", 1)) })
		assert.Empty(t, bus.Producers())
	})

	t.Run("should detach listeners of an unregistered producer", func(t *testing.T) {
		bus := NewEventBus(nil)
		h := bus.RegisterProducer("a")
		l := &collectingListener{}
		bus.RegisterListener("a", l)

		bus.UnregisterProducer("a")
		h.PublishEvent(NewDataEvent("a", "x", 1))
		assert.Zero(t, l.count())
		assert.Empty(t, bus.Producers())
	})

	t.Run("should clear every listener", func(t *testing.T) {
		bus := NewEventBus(nil)
		h := bus.RegisterProducer("a")
		l := &collectingListener{}
		bus.RegisterListener("a", l)

		bus.ClearAllListeners()
		h.PublishEvent(NewDataEvent("a", "x", 1))
		assert.Zero(t, l.count())
	})
}

func TestOnModuleEvent(t *testing.T) {
	var got []*ModuleEvent
	l := OnModuleEvent("a", func(e *ModuleEvent) { got = append(got, e) }, EventDeleted, EventUnloaded)

	l.HandleEvent(&ModuleEvent{Type: EventDeleted, ModuleID: "a"})
	l.HandleEvent(&ModuleEvent{Type: EventDeleted, ModuleID: "b"})
	l.HandleEvent(&ModuleEvent{Type: EventStateChanged, ModuleID: "a"})
	l.HandleEvent(NewDataEvent("a", "x", nil))
	l.HandleEvent(&ModuleEvent{Type: EventUnloaded, ModuleID: "a"})

	require.Len(t, got, 2)
	assert.Equal(t, EventDeleted, got[0].Type)
	assert.Equal(t, EventUnloaded, got[1].Type)
}
