package statestore

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// MemoryManager is a state manager that lives as long as the process. Flush
// does nothing. It is meant for tests and for hubs without a data folder
// that still want modules to exchange state across restarts.
type MemoryManager struct {
	mu     sync.Mutex
	values scalars
	blobs  map[string][]byte
}

// NewMemory creates an empty in-memory state manager.
func NewMemory() *MemoryManager {
	return &MemoryManager{values: scalars{}, blobs: map[string][]byte{}}
}

func (m *MemoryManager) String(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values.get(key)
}

func (m *MemoryManager) Float32(key string) (float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[float32](m.values, key)
}

func (m *MemoryManager) Float64(key string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[float64](m.values, key)
}

func (m *MemoryManager) Int32(key string) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[int32](m.values, key)
}

func (m *MemoryManager) Int64(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[int64](m.values, key)
}

func (m *MemoryManager) Put(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values.put(key, value)
}

func (m *MemoryManager) Reader(key string) (io.ReadCloser, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[strings.ToLower(key)]
	if !ok {
		return nil, false, nil
	}
	return io.NopCloser(bytes.NewReader(blob)), true, nil
}

func (m *MemoryManager) Writer(key string) (io.WriteCloser, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &memoryWriter{m: m, key: strings.ToLower(key)}, nil
}

func (m *MemoryManager) Flush() error { return nil }

func (m *MemoryManager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = scalars{}
	m.blobs = map[string][]byte{}
	return nil
}

// memoryWriter publishes its buffer on Close.
type memoryWriter struct {
	m   *MemoryManager
	key string
	buf bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memoryWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.blobs[w.key] = bytes.Clone(w.buf.Bytes())
	return nil
}

// MemoryProvider hands out one MemoryManager per module id.
type MemoryProvider struct {
	mu       sync.Mutex
	managers map[string]*MemoryManager
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{managers: map[string]*MemoryManager{}}
}

// Open returns the manager of moduleID, creating it on first use.
func (p *MemoryProvider) Open(moduleID string) (*MemoryManager, error) {
	if moduleID == "" {
		return nil, ErrEmptyModuleID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.managers[moduleID]
	if !ok {
		m = NewMemory()
		p.managers[moduleID] = m
	}
	return m, nil
}
