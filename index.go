package modhub

import "github.com/GoCodeAlone/modhub/registry"

// ModuleIndex is a secondary view over initialized modules, such as "every
// module able to record data". The registry adds modules when they reach
// INITIALIZED and removes them when they are unloaded or destroyed.
type ModuleIndex interface {
	// Add indexes m if it belongs in the index and reports whether it did.
	Add(m Module) bool

	// Remove drops the module with the given id.
	Remove(moduleID string)

	// Clear empties the index.
	Clear()
}

// TypedIndex indexes the modules implementing T.
type TypedIndex[T any] struct {
	items *registry.Table[T]
}

// NewTypedIndex creates an index of the modules implementing T.
func NewTypedIndex[T any]() *TypedIndex[T] {
	return &TypedIndex[T]{items: registry.NewTable[T]()}
}

func (i *TypedIndex[T]) Add(m Module) bool {
	t, ok := m.(T)
	if !ok {
		return false
	}
	i.items.Put(m.ID(), t)
	return true
}

func (i *TypedIndex[T]) Remove(moduleID string) { i.items.Remove(moduleID) }
func (i *TypedIndex[T]) Clear()                 { i.items.Clear() }

// Get returns the indexed module with the given id.
func (i *TypedIndex[T]) Get(moduleID string) (T, bool) { return i.items.Get(moduleID) }

// All returns the indexed modules in indexing order.
func (i *TypedIndex[T]) All() []T { return i.items.Values() }

func (i *TypedIndex[T]) Len() int { return i.items.Len() }

// EntityIndex indexes Entity modules by their unique identifier.
type EntityIndex struct {
	byUID *registry.Table[Module]
	uids  *registry.Table[string]
}

// NewEntityIndex creates an empty entity index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{
		byUID: registry.NewTable[Module](),
		uids:  registry.NewTable[string](),
	}
}

func (i *EntityIndex) Add(m Module) bool {
	e, ok := m.(Entity)
	if !ok {
		return false
	}
	uid := e.UniqueIdentifier()
	if uid == "" {
		return false
	}
	if previous, ok := i.uids.Get(m.ID()); ok && previous != uid {
		i.byUID.Remove(previous)
	}
	i.byUID.Put(uid, m)
	i.uids.Put(m.ID(), uid)
	return true
}

func (i *EntityIndex) Remove(moduleID string) {
	if uid, ok := i.uids.Remove(moduleID); ok {
		i.byUID.Remove(uid)
	}
}

func (i *EntityIndex) Clear() {
	i.byUID.Clear()
	i.uids.Clear()
}

// Find returns the module standing for the entity uid.
func (i *EntityIndex) Find(uid string) (Module, bool) { return i.byUID.Get(uid) }

// All returns the indexed entity modules.
func (i *EntityIndex) All() []Module { return i.byUID.Values() }
