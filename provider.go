package modhub

import (
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/modhub/registry"
)

// Factory builds a module for cfg. The registry assigns cfg to the returned
// module afterwards, so factories only need it to validate options or pick
// an implementation.
type Factory func(hub *Hub, cfg *ModuleConfig) (Module, error)

// ProviderInfo describes an installed module type.
type ProviderInfo struct {
	// Type is the tag stored in ModuleConfig.ModuleType.
	Type        string
	Name        string
	Description string
	Version     string
	Vendor      string

	// DefaultOptions returns the options block of new configurations.
	DefaultOptions func() any
}

// Provider is an installed module type and the factory building it.
type Provider struct {
	ProviderInfo

	factory  Factory
	implType reflect.Type
}

// ImplementationType returns the concrete type the provider builds, or nil
// when it was registered without one.
func (p *Provider) ImplementationType() reflect.Type { return p.implType }

// Builds reports whether modules built by p are assignable to t.
func (p *Provider) Builds(t reflect.Type) bool {
	return p.implType != nil && p.implType.AssignableTo(t)
}

// NewModule runs the factory.
func (p *Provider) NewModule(hub *Hub, cfg *ModuleConfig) (Module, error) {
	m, err := p.factory(hub, cfg)
	if err != nil {
		return nil, err
	}
	if isNil(m) {
		return nil, ErrNilModule
	}
	return m, nil
}

func isNil(m Module) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// ProviderRegistry maps type tags to providers. Plugins add themselves with
// Register or RegisterProvider at startup; nothing is loaded dynamically.
type ProviderRegistry struct {
	providers *registry.Table[*Provider]
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: registry.NewTable[*Provider]()}
}

// Register installs a provider whose implementation type is unknown. Such
// providers never match type filters.
func (r *ProviderRegistry) Register(info ProviderInfo, factory Factory) error {
	return r.register(info, factory, nil)
}

// RegisterProvider installs a provider building modules of type T, which
// enables AvailableModulesOf and ProvidersOf to filter by interface.
func RegisterProvider[T Module](r *ProviderRegistry, info ProviderInfo, factory func(hub *Hub, cfg *ModuleConfig) (T, error)) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, info.Type)
	}
	return r.register(info, func(hub *Hub, cfg *ModuleConfig) (Module, error) {
		m, err := factory(hub, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}, reflect.TypeFor[T]())
}

func (r *ProviderRegistry) register(info ProviderInfo, factory Factory, implType reflect.Type) error {
	if info.Type == "" {
		return ErrProviderTypeEmpty
	}
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, info.Type)
	}
	if info.Name == "" {
		info.Name = info.Type
	}
	p := &Provider{ProviderInfo: info, factory: factory, implType: implType}
	if err := r.providers.Insert(info.Type, p); err != nil {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, info.Type)
	}
	return nil
}

// MustRegister is Register for init-time registration; it panics on error.
func (r *ProviderRegistry) MustRegister(info ProviderInfo, factory Factory) {
	if err := r.Register(info, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the provider for a type tag.
func (r *ProviderRegistry) Lookup(typeTag string) (*Provider, bool) {
	return r.providers.Get(typeTag)
}

// Installed returns every provider in registration order.
func (r *ProviderRegistry) Installed() []*Provider {
	return r.providers.Values()
}

// Create instantiates the module described by cfg.
func (r *ProviderRegistry) Create(hub *Hub, cfg *ModuleConfig) (Module, error) {
	p, ok := r.Lookup(cfg.ModuleType)
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrInstantiationFailure, ErrUnknownModuleType, cfg.ModuleType)
	}
	m, err := p.NewModule(hub, cfg)
	if err != nil {
		return nil, kindError(ErrInstantiationFailure, err)
	}
	return m, nil
}

// ProvidersOf returns the installed providers whose modules are assignable
// to T, usually an interface describing a capability.
func ProvidersOf[T any](r *ProviderRegistry) []*Provider {
	target := reflect.TypeFor[T]()
	var out []*Provider
	for _, p := range r.Installed() {
		if p.Builds(target) {
			out = append(out, p)
		}
	}
	return out
}
