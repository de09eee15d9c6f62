package modhub

// ModuleRef is a non-owning handle on a module. Only the registry owns
// module instances; holders of a ModuleRef resolve it every time they need
// the module instead of caching the instance.
type ModuleRef struct {
	id       string
	registry *Registry
}

// Ref returns a handle on module id. The module does not need to be loaded.
func (r *Registry) Ref(id string) ModuleRef {
	return ModuleRef{id: id, registry: r}
}

// ID returns the module id.
func (h ModuleRef) ID() string { return h.id }

// Get returns the module if it is currently loaded.
func (h ModuleRef) Get() (Module, bool) {
	if h.registry == nil {
		return nil, false
	}
	return h.registry.LoadedModule(h.id)
}

// Resolve returns the module, loading it from the config repository if
// needed.
func (h ModuleRef) Resolve() (Module, error) {
	if h.registry == nil {
		return nil, idError(OpFind, h.id, ErrUnknownModule)
	}
	return h.registry.ModuleByID(h.id)
}
