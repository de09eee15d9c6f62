package modhub

import (
	"fmt"
	"time"

	"github.com/GoCodeAlone/modhub/statestore"
)

// Option configures a Hub.
type Option func(*Hub) error

// WithLogger sets the logger used by the hub, the registry and modules
// built on BaseModule.
func WithLogger(logger Logger) Option {
	return func(h *Hub) error {
		if logger == nil {
			return fmt.Errorf("%w: logger is nil", ErrInvalidOption)
		}
		h.logger = logger
		return nil
	}
}

// WithConfigRepository sets the repository modules are loaded from. Without
// one, modules can only be loaded from explicit configurations.
func WithConfigRepository(repo ConfigRepository) Option {
	return func(h *Hub) error {
		h.repo = repo
		return nil
	}
}

// WithStateManagers sets the factory of per-module state managers. Without
// one, module state is neither loaded nor saved.
func WithStateManagers(factory StateManagerFactory) Option {
	return func(h *Hub) error {
		h.stateManagers = factory
		return nil
	}
}

// WithModuleDataPath keeps module state in one folder per module under
// path. An empty path disables state persistence.
func WithModuleDataPath(path string) Option {
	return func(h *Hub) error {
		if path == "" {
			h.stateManagers = nil
			return nil
		}
		h.stateManagers = func(moduleID string) (StateManager, error) {
			m, err := statestore.Open(path, moduleID)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil
	}
}

// WithProviders uses an existing provider registry.
func WithProviders(providers *ProviderRegistry) Option {
	return func(h *Hub) error {
		h.providers = providers
		return nil
	}
}

// WithEventBus uses an existing event bus.
func WithEventBus(bus *EventBus) Option {
	return func(h *Hub) error {
		h.bus = bus
		return nil
	}
}

// WithIndexes registers secondary indexes maintained by the registry.
func WithIndexes(indexes ...ModuleIndex) Option {
	return func(h *Hub) error {
		h.indexes = append(h.indexes, indexes...)
		return nil
	}
}

// WithShutdownTimeout bounds the whole shutdown, across all modules. It also
// bounds the synchronous stop performed by UnloadModule and DestroyModule.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Hub) error {
		if d <= 0 {
			return fmt.Errorf("%w: shutdown timeout must be positive, got %s", ErrInvalidOption, d)
		}
		h.shutdownTimeout = d
		return nil
	}
}

// WithPollInterval sets how often shutdown checks whether modules stopped.
func WithPollInterval(d time.Duration) Option {
	return func(h *Hub) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidOption, d)
		}
		h.pollInterval = d
		return nil
	}
}

// WithWorkerIdleTimeout sets how long a per-module worker waits for more
// tasks before exiting.
func WithWorkerIdleTimeout(d time.Duration) Option {
	return func(h *Hub) error {
		h.idleTimeout = d
		return nil
	}
}
