package modhub

import (
	"slices"
	"sync"

	"github.com/GoCodeAlone/modhub/registry"
)

// RegistryProducerID is the producer id under which the registry republishes
// every module event and publishes its own LOADED, UNLOADED and DELETED
// notifications.
const RegistryProducerID = "MODULE_REGISTRY"

// EventHandler is the handle a producer publishes through. Delivery is
// synchronous, on the publishing goroutine, in listener registration order.
type EventHandler struct {
	producerID string
	logger     Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewEventHandler creates a handle that is not attached to any bus.
func NewEventHandler(producerID string, logger Logger) *EventHandler {
	if logger == nil {
		logger = NopLogger()
	}
	return &EventHandler{producerID: producerID, logger: logger}
}

// ProducerID returns the id of the producer owning the handle.
func (h *EventHandler) ProducerID() string { return h.producerID }

// RegisterListener appends l to the listeners. Registering the same
// listener twice has no effect.
func (h *EventHandler) RegisterListener(l Listener) bool {
	if l == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if slices.Contains(h.listeners, l) {
		return false
	}
	h.listeners = append(h.listeners, l)
	return true
}

// UnregisterListener removes l and reports whether it was registered.
func (h *EventHandler) UnregisterListener(l Listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := slices.Index(h.listeners, l)
	if i < 0 {
		return false
	}
	h.listeners = slices.Delete(h.listeners, i, i+1)
	return true
}

// ListenerCount returns the number of registered listeners.
func (h *EventHandler) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// ClearAllListeners drops every listener.
func (h *EventHandler) ClearAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = nil
}

// PublishEvent delivers e to a snapshot of the listeners, so listeners may
// register or unregister while handling it. A panicking listener is logged
// and does not prevent delivery to the others.
func (h *EventHandler) PublishEvent(e Event) {
	h.deliverAll(h.snapshot(), e)
}

func (h *EventHandler) snapshot() []Listener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.listeners)
}

func (h *EventHandler) deliverAll(listeners []Listener, e Event) {
	for _, l := range listeners {
		h.deliver(l, e)
	}
}

func (h *EventHandler) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Event listener panicked", "producer", h.producerID, "panic", r)
		}
	}()
	l.HandleEvent(e)
}

// EventBus keys event handlers by producer id. Subscribers may register on a
// producer id before the producer itself shows up.
type EventBus struct {
	logger    Logger
	producers *registry.Table[*EventHandler]
}

// NewEventBus creates an empty bus.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = NopLogger()
	}
	return &EventBus{logger: logger, producers: registry.NewTable[*EventHandler]()}
}

// RegisterProducer returns the handle of producer id, creating it on first
// use. Listeners that subscribed to id earlier are kept.
func (b *EventBus) RegisterProducer(id string) *EventHandler {
	h, _ := b.producers.PutIfAbsent(id, NewEventHandler(id, b.logger))
	return h
}

// UnregisterProducer drops the handle of producer id together with its
// listeners.
func (b *EventBus) UnregisterProducer(id string) {
	if h, ok := b.producers.Remove(id); ok {
		h.ClearAllListeners()
	}
}

// RegisterListener subscribes l to producer id. No state replay happens
// here; register on the module itself for that.
func (b *EventBus) RegisterListener(producerID string, l Listener) {
	b.RegisterProducer(producerID).RegisterListener(l)
}

// UnregisterListener removes l from producer id.
func (b *EventBus) UnregisterListener(producerID string, l Listener) {
	if h, ok := b.producers.Get(producerID); ok {
		h.UnregisterListener(l)
	}
}

// Publish publishes e on behalf of producer id.
func (b *EventBus) Publish(producerID string, e Event) {
	if h, ok := b.producers.Get(producerID); ok {
		h.PublishEvent(e)
	}
}

// Producers returns the known producer ids in registration order.
func (b *EventBus) Producers() []string {
	return b.producers.Keys()
}

// ClearAllListeners drops every listener of every producer. The registry
// calls it at the end of shutdown for listeners that failed to unregister.
func (b *EventBus) ClearAllListeners() {
	for _, h := range b.producers.Values() {
		h.ClearAllListeners()
	}
}
