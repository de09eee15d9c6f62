package modhub

import "io"

// StateManager is the per-module durable store for runtime state. It is
// scoped to one module id and independent of configuration storage.
type StateManager interface {
	// String returns the scalar stored under key.
	String(key string) (string, bool)

	// Float32, Float64, Int32 and Int64 return the scalar stored under key
	// converted to the requested type. ok is false if the key is absent or
	// its value does not convert.
	Float32(key string) (float32, bool)
	Float64(key string) (float64, bool)
	Int32(key string) (int32, bool)
	Int64(key string) (int64, bool)

	// Put stores a scalar. It is persisted on Flush.
	Put(key string, value any)

	// Reader opens the blob stored under key. ok is false if there is none.
	Reader(key string) (r io.ReadCloser, ok bool, err error)

	// Writer opens the blob stored under key for writing, replacing it.
	Writer(key string) (io.WriteCloser, error)

	// Flush persists scalars written with Put.
	Flush() error

	// Cleanup deletes everything persisted for the module.
	Cleanup() error
}

// StateManagerFactory returns the state manager scoped to a module id.
type StateManagerFactory func(moduleID string) (StateManager, error)

// ConfigRepository is the durable store of module configuration records.
// Changes made with Update and Remove become durable on Commit.
type ConfigRepository interface {
	// GetAllModulesConfigurations returns every record in repository order.
	GetAllModulesConfigurations() ([]*ModuleConfig, error)

	// Get returns the record with the given id or an error wrapping
	// ErrConfigNotFound.
	Get(id string) (*ModuleConfig, error)

	Contains(id string) bool

	// Update inserts or replaces records.
	Update(configs ...*ModuleConfig) error

	// Remove deletes records. Unknown ids are ignored.
	Remove(ids ...string) error

	Commit() error
	Close() error
}
