package configrepo_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/configrepo"
)

const twoModules = `
modules:
  - id: a
    name: Alpha
    moduleType: sensor
  - id: b
    name: Bravo
    moduleType: sensor
`

const editedModules = `
modules:
  - id: a
    name: Alpha renamed
    moduleType: sensor
  - id: c
    name: Charlie
    moduleType: sensor
`

func TestNewWatcher_RequiresFileRepository(t *testing.T) {
	repo, err := configrepo.NewMemory()
	require.NoError(t, err)

	_, err = configrepo.NewWatcher(repo, nil)
	assert.ErrorIs(t, err, configrepo.ErrNotWatchable)
}

func TestWatcher_Check(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoModules), 0o600))
	repo, err := configrepo.OpenFile(path)
	require.NoError(t, err)
	defer repo.Close()

	var got *configrepo.ConfigDiff
	w, err := configrepo.NewWatcher(repo, func(d *configrepo.ConfigDiff) { got = d })
	require.NoError(t, err)

	t.Run("should report nothing when the file is unchanged", func(t *testing.T) {
		d, err := w.Check()
		require.NoError(t, err)
		assert.True(t, d.Empty())
		assert.Nil(t, got)
	})

	t.Run("should ignore the file while edits are pending", func(t *testing.T) {
		require.NoError(t, repo.Update(&modhub.ModuleConfig{ID: "z", ModuleType: "sensor"}))
		require.NoError(t, os.WriteFile(path, []byte(editedModules), 0o600))

		d, err := w.Check()
		require.NoError(t, err)
		assert.True(t, d.Empty())
		assert.True(t, repo.Contains("z"))

		require.NoError(t, repo.Reload())
	})

	t.Run("should report external edits", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(twoModules), 0o600))
		require.NoError(t, repo.Reload())
		require.NoError(t, os.WriteFile(path, []byte(editedModules), 0o600))

		d, err := w.Check()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"c"}, ids(d.Added))
		assert.Equal(t, []string{"a"}, ids(d.Changed))
		assert.Equal(t, []string{"b"}, ids(d.Removed))
	})

	t.Run("should not report own commits", func(t *testing.T) {
		got = nil
		require.NoError(t, repo.Update(&modhub.ModuleConfig{ID: "d", ModuleType: "sensor"}))
		require.NoError(t, repo.Commit())

		d, err := w.Check()
		require.NoError(t, err)
		assert.True(t, d.Empty())
		assert.Nil(t, got)
	})
}

func TestWatcher_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoModules), 0o600))
	repo, err := configrepo.OpenFile(path)
	require.NoError(t, err)
	defer repo.Close()

	var (
		mu    sync.Mutex
		diffs []*configrepo.ConfigDiff
	)
	w, err := configrepo.NewWatcher(repo, func(d *configrepo.ConfigDiff) {
		mu.Lock()
		diffs = append(diffs, d)
		mu.Unlock()
	}, configrepo.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(editedModules), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(diffs) > 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, repo.Contains("c"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
