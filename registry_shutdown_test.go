package modhub_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/configrepo"
	"github.com/GoCodeAlone/modhub/internal/testutil"
)

func TestRegistry_Shutdown(t *testing.T) {
	t.Run("should stop every module and persist", func(t *testing.T) {
		dir := t.TempDir()
		repo, err := configrepo.OpenFile(filepath.Join(dir, "modules.yaml"))
		require.NoError(t, err)
		providers := modhub.NewProviderRegistry()
		require.NoError(t, testutil.RegisterFake(providers))

		hub, err := modhub.NewHub(
			modhub.WithConfigRepository(repo),
			modhub.WithProviders(providers),
			modhub.WithModuleDataPath(filepath.Join(dir, "data")),
			modhub.WithPollInterval(10*time.Millisecond),
		)
		require.NoError(t, err)
		reg := hub.Registry()

		a, err := reg.LoadModule(testutil.FakeConfig("a", true, nil), 2*time.Second)
		require.NoError(t, err)
		b, err := reg.LoadModule(testutil.FakeConfig("b", false, nil), 2*time.Second)
		require.NoError(t, err)
		fakeOf(t, a).Counter.Store(5)

		require.NoError(t, reg.Shutdown(true, true))
		assert.True(t, reg.IsShutdown())
		assert.Equal(t, modhub.StateStopped, a.CurrentState())
		assert.Equal(t, modhub.StateStopped, b.CurrentState())
		assert.Empty(t, reg.LoadedModules())

		// a second hub sees what the first one saved
		reopened, err := configrepo.OpenFile(filepath.Join(dir, "modules.yaml"))
		require.NoError(t, err)
		next, _ := testutil.NewHub(t, nil,
			modhub.WithConfigRepository(reopened),
			modhub.WithModuleDataPath(filepath.Join(dir, "data")))
		require.NoError(t, next.Registry().LoadAllModules())

		restored, err := next.Registry().StartModule("a", 2*time.Second)
		require.NoError(t, err)
		assert.EqualValues(t, 5, fakeOf(t, restored).Counter.Load())
		assert.True(t, next.Registry().IsModuleLoaded("b"))
	})

	t.Run("should be a no-op the second time", func(t *testing.T) {
		hub, _ := testutil.NewHub(t, nil)
		require.NoError(t, hub.Registry().Shutdown(false, false))
		assert.NoError(t, hub.Registry().Shutdown(true, true))
	})

	t.Run("should reject requests once started", func(t *testing.T) {
		hub, _ := testutil.NewHub(t, []*modhub.ModuleConfig{testutil.FakeConfig("m", false, nil)})
		reg := hub.Registry()
		require.NoError(t, reg.Shutdown(false, false))

		_, err := reg.LoadModuleAsync(testutil.FakeConfig("late", false, nil), nil)
		assert.ErrorIs(t, err, modhub.ErrShutdownRejected)
		_, err = reg.StartModuleAsync("m", nil)
		assert.ErrorIs(t, err, modhub.ErrShutdownRejected)
	})

	t.Run("should give up on modules that do not stop in time", func(t *testing.T) {
		hub, _ := testutil.NewHub(t, nil, modhub.WithShutdownTimeout(200*time.Millisecond))
		reg := hub.Registry()
		_, err := reg.LoadModule(testutil.FakeConfig("quick", true, nil), 2*time.Second)
		require.NoError(t, err)
		_, err = reg.LoadModule(testutil.FakeConfig("sluggish", true, &testutil.FakeOptions{StopDelay: 5 * time.Second}), 2*time.Second)
		require.NoError(t, err)

		start := time.Now()
		err = reg.Shutdown(false, false)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, modhub.ErrShutdownIncomplete)
		assert.Contains(t, err.Error(), "fake sluggish")
		assert.NotContains(t, err.Error(), "fake quick")
		assert.Less(t, elapsed, 2*time.Second)
		assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	})
}
