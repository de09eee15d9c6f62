// Package registry provides an insertion-ordered table keyed by string that
// is safe for concurrent use. The module registry, the event bus and the
// provider registry all keep their entries in one.
package registry

import (
	"errors"
	"slices"
	"sync"
)

// Static errors for registry package
var (
	ErrEntryAlreadyExists = errors.New("entry already exists")
	ErrEntryNotFound      = errors.New("entry not found")
)

// Table maps string keys to values and remembers the order in which keys
// were first inserted. Replacing the value of an existing key keeps its
// original position.
type Table[V any] struct {
	mu    sync.RWMutex
	order []string
	items map[string]V
}

// NewTable creates an empty table.
func NewTable[V any]() *Table[V] {
	return &Table[V]{
		items: make(map[string]V),
	}
}

// Get returns the value stored under key.
func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[key]
	return v, ok
}

// Contains reports whether key is present.
func (t *Table[V]) Contains(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Put stores v under key and reports whether an existing value was replaced.
func (t *Table[V]) Put(key string, v V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.items[key]
	if !exists {
		t.order = append(t.order, key)
	}
	t.items[key] = v
	return exists
}

// Insert stores v under key, failing with ErrEntryAlreadyExists if the key
// is taken.
func (t *Table[V]) Insert(key string, v V) error {
	if _, loaded := t.PutIfAbsent(key, v); loaded {
		return ErrEntryAlreadyExists
	}
	return nil
}

// PutIfAbsent stores v under key unless the key is already present. It
// returns the value now associated with key and whether it was already there.
func (t *Table[V]) PutIfAbsent(key string, v V) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.items[key]; ok {
		return existing, true
	}
	t.order = append(t.order, key)
	t.items[key] = v
	return v, false
}

// Remove deletes key and returns the value it held.
func (t *Table[V]) Remove(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[key]
	if !ok {
		return v, false
	}
	t.delete(key)
	return v, true
}

// RemoveFunc deletes key only if match accepts the value it holds, and
// reports whether it did.
func (t *Table[V]) RemoveFunc(key string, match func(V) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[key]
	if !ok || !match(v) {
		return false
	}
	t.delete(key)
	return true
}

func (t *Table[V]) delete(key string) {
	delete(t.items, key)
	if i := slices.Index(t.order, key); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
}

// Keys returns a snapshot of the keys in insertion order.
func (t *Table[V]) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}

// Values returns a snapshot of the values in insertion order.
func (t *Table[V]) Values() []V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	values := make([]V, 0, len(t.order))
	for _, key := range t.order {
		values = append(values, t.items[key])
	}
	return values
}

// Range calls fn for every entry of a snapshot taken in insertion order,
// stopping early if fn returns false. fn may modify the table.
func (t *Table[V]) Range(fn func(key string, v V) bool) {
	t.mu.RLock()
	keys := slices.Clone(t.order)
	values := make([]V, len(keys))
	for i, key := range keys {
		values[i] = t.items[key]
	}
	t.mu.RUnlock()

	for i, key := range keys {
		if !fn(key, values[i]) {
			return
		}
	}
}

// Len returns the number of entries.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Clear removes every entry.
func (t *Table[V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.items = make(map[string]V)
}
