package modhub

import (
	"time"
)

// Hub is the context object handed to every module factory. It replaces a
// process-wide singleton: several hubs can live in one process, which is
// what the tests do.
type Hub struct {
	logger        Logger
	bus           *EventBus
	providers     *ProviderRegistry
	repo          ConfigRepository
	stateManagers StateManagerFactory
	indexes       []ModuleIndex

	shutdownTimeout time.Duration
	pollInterval    time.Duration
	idleTimeout     time.Duration

	registry *Registry
}

// Default timings.
const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
)

// NewHub builds a hub and its registry.
func NewHub(opts ...Option) (*Hub, error) {
	h := &Hub{
		logger:          NopLogger(),
		shutdownTimeout: DefaultShutdownTimeout,
		pollInterval:    DefaultPollInterval,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.bus == nil {
		h.bus = NewEventBus(h.logger)
	}
	if h.providers == nil {
		h.providers = NewProviderRegistry()
	}
	h.registry = newRegistry(h)
	return h, nil
}

// Logger returns the hub logger.
func (h *Hub) Logger() Logger { return h.logger }

// EventBus returns the hub event bus.
func (h *Hub) EventBus() *EventBus { return h.bus }

// Providers returns the installed module types.
func (h *Hub) Providers() *ProviderRegistry { return h.providers }

// Registry returns the module registry.
func (h *Hub) Registry() *Registry { return h.registry }

// ConfigRepository returns the configured repository, which may be nil.
func (h *Hub) ConfigRepository() ConfigRepository { return h.repo }
