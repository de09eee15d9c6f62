// Package configrepo provides durable stores of module configuration
// records. Every store keeps an ordered working copy in memory; Update and
// Remove edit the working copy and Commit writes it to the backend.
package configrepo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/registry"
)

var (
	ErrRepositoryClosed  = errors.New("configuration repository is closed")
	ErrUnsupportedFormat = errors.New("unsupported configuration file format")
	ErrDuplicateModuleID = errors.New("duplicate module id in configuration")
	ErrNilConfiguration  = errors.New("module configuration is nil")
)

// backend loads and stores the complete list of records.
type backend interface {
	load() ([]*modhub.ModuleConfig, error)
	store(configs []*modhub.ModuleConfig) error
	close() error
}

// Repository is a modhub.ConfigRepository over a pluggable backend.
type Repository struct {
	mu      sync.Mutex
	configs *registry.Table[*modhub.ModuleConfig]
	backend backend
	dirty   bool
	closed  bool
}

var _ modhub.ConfigRepository = (*Repository)(nil)

// NewMemory returns a repository that never leaves memory. Commit keeps a
// snapshot that Reload returns to.
func NewMemory(configs ...*modhub.ModuleConfig) (*Repository, error) {
	return open(&memoryBackend{initial: configs})
}

func open(b backend) (*Repository, error) {
	r := &Repository{
		configs: registry.NewTable[*modhub.ModuleConfig](),
		backend: b,
	}
	if err := r.reload(); err != nil {
		_ = b.close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) reload() error {
	configs, err := r.backend.load()
	if err != nil {
		return err
	}
	table := registry.NewTable[*modhub.ModuleConfig]()
	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		if cfg.ID == "" {
			return fmt.Errorf("%w: record %q", modhub.ErrMissingModuleID, cfg.Name)
		}
		if err := table.Insert(cfg.ID, cfg.Clone()); err != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateModuleID, cfg.ID)
		}
	}
	r.configs = table
	r.dirty = false
	return nil
}

// Reload discards uncommitted changes and re-reads the backend.
func (r *Repository) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRepositoryClosed
	}
	return r.reload()
}

func (r *Repository) GetAllModulesConfigurations() ([]*modhub.ModuleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRepositoryClosed
	}
	values := r.configs.Values()
	out := make([]*modhub.ModuleConfig, len(values))
	for i, cfg := range values {
		out[i] = cfg.Clone()
	}
	return out, nil
}

func (r *Repository) Get(id string) (*modhub.ModuleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRepositoryClosed
	}
	cfg, ok := r.configs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", modhub.ErrConfigNotFound, id)
	}
	return cfg.Clone(), nil
}

func (r *Repository) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.configs.Contains(id)
}

// Update inserts new records at the end and replaces existing ones in place.
func (r *Repository) Update(configs ...*modhub.ModuleConfig) error {
	for _, cfg := range configs {
		if cfg == nil {
			return ErrNilConfiguration
		}
		if cfg.ID == "" {
			return modhub.ErrMissingModuleID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRepositoryClosed
	}
	for _, cfg := range configs {
		r.configs.Put(cfg.ID, cfg.Clone())
	}
	r.dirty = r.dirty || len(configs) > 0
	return nil
}

func (r *Repository) Remove(ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRepositoryClosed
	}
	for _, id := range ids {
		if _, ok := r.configs.Remove(id); ok {
			r.dirty = true
		}
	}
	return nil
}

// Commit writes the working copy to the backend. A commit with nothing
// changed since the last load or commit does not touch the backend.
func (r *Repository) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRepositoryClosed
	}
	if !r.dirty {
		return nil
	}
	if err := r.backend.store(r.configs.Values()); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// Path returns the backing file of a file repository and "" for any other
// backend.
func (r *Repository) Path() string {
	if b, ok := r.backend.(*fileBackend); ok {
		return b.path
	}
	return ""
}

// Dirty reports whether there are uncommitted changes.
func (r *Repository) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Close releases the backend. Uncommitted changes are lost.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.configs.Clear()
	return r.backend.close()
}

type memoryBackend struct {
	initial []*modhub.ModuleConfig
}

func (b *memoryBackend) load() ([]*modhub.ModuleConfig, error) {
	return b.initial, nil
}

func (b *memoryBackend) store(configs []*modhub.ModuleConfig) error {
	b.initial = make([]*modhub.ModuleConfig, len(configs))
	for i, cfg := range configs {
		b.initial[i] = cfg.Clone()
	}
	return nil
}

func (b *memoryBackend) close() error { return nil }
