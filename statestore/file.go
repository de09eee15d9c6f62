package statestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// StateFileName is the name of the scalar file in a module folder.
const StateFileName = "state.yaml"

// FileManager keeps the state of one module in its own folder under a data
// root: scalars in state.yaml, blobs in one <key>.dat file each. Scalars are
// read when the manager is opened and written by Flush.
type FileManager struct {
	folder string

	mu     sync.Mutex
	values scalars
}

// Open returns the state manager of moduleID under root. The folder is only
// created when something is written.
func Open(root, moduleID string) (*FileManager, error) {
	if moduleID == "" {
		return nil, ErrEmptyModuleID
	}
	m := &FileManager{
		folder: filepath.Join(root, SafeFileName(moduleID)),
		values: scalars{},
	}

	raw, err := os.ReadFile(filepath.Join(m.folder, StateFileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read state of module %s: %w", moduleID, err)
	default:
		if err := yaml.Unmarshal(raw, &m.values); err != nil {
			return nil, fmt.Errorf("failed to parse state of module %s: %w", moduleID, err)
		}
		if m.values == nil {
			m.values = scalars{}
		}
	}
	return m, nil
}

// Folder returns the module folder.
func (m *FileManager) Folder() string { return m.folder }

func (m *FileManager) String(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values.get(key)
}

func (m *FileManager) Float32(key string) (float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[float32](m.values, key)
}

func (m *FileManager) Float64(key string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[float64](m.values, key)
}

func (m *FileManager) Int32(key string) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[int32](m.values, key)
}

func (m *FileManager) Int64(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return convert[int64](m.values, key)
}

func (m *FileManager) Put(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values.put(key, value)
}

func (m *FileManager) Reader(key string) (io.ReadCloser, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	f, err := os.Open(filepath.Join(m.folder, blobName(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func (m *FileManager) Writer(key string) (io.WriteCloser, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := os.MkdirAll(m.folder, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state folder: %w", err)
	}
	return os.Create(filepath.Join(m.folder, blobName(key)))
}

// Flush writes the scalars to state.yaml, replacing the file atomically.
func (m *FileManager) Flush() error {
	m.mu.Lock()
	raw, err := yaml.Marshal(map[string]string(m.values))
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(m.folder, 0o750); err != nil {
		return fmt.Errorf("failed to create state folder: %w", err)
	}
	tmp, err := os.CreateTemp(m.folder, StateFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(m.folder, StateFileName))
}

// Cleanup deletes the module folder and forgets every scalar.
func (m *FileManager) Cleanup() error {
	m.mu.Lock()
	m.values = scalars{}
	m.mu.Unlock()
	if err := os.RemoveAll(m.folder); err != nil {
		return fmt.Errorf("failed to delete state folder: %w", err)
	}
	return nil
}
