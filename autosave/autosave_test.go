package autosave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/autosave"
	"github.com/GoCodeAlone/modhub/internal/testutil"
)

func startedFake(t *testing.T, opts ...modhub.Option) (*modhub.Registry, *testutil.FakeModule) {
	t.Helper()
	opts = append(opts, modhub.WithModuleDataPath(t.TempDir()))
	hub, _ := testutil.NewHub(t, []*modhub.ModuleConfig{testutil.FakeConfig("f", false, nil)}, opts...)
	reg := hub.Registry()
	m, err := reg.StartModule("f", time.Second)
	require.NoError(t, err)
	return reg, m.(*testutil.FakeModule)
}

func TestNew(t *testing.T) {
	hub, _ := testutil.NewHub(t, nil)

	_, err := autosave.New(hub.Registry(), "not a schedule")
	assert.Error(t, err)

	_, err = autosave.New(hub.Registry(), "@hourly", autosave.WithStates(false))
	assert.ErrorIs(t, err, autosave.ErrNothingToSave)

	s, err := autosave.New(hub.Registry(), "@hourly", autosave.WithConfigurations(true))
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero(), "nothing is scheduled before Start")
}

func TestSaveNow(t *testing.T) {
	t.Run("states", func(t *testing.T) {
		reg, fake := startedFake(t)
		fake.Counter.Store(42)

		s, err := autosave.New(reg, "@hourly")
		require.NoError(t, err)
		require.NoError(t, s.SaveNow())

		assert.EqualValues(t, 1, fake.Saves.Load())
		assert.EqualValues(t, 1, s.Runs())
		at, lastErr := s.LastResult()
		assert.NoError(t, lastErr)
		assert.False(t, at.IsZero())

		sm, err := reg.StateManager("f")
		require.NoError(t, err)
		v, ok := sm.Int64("counter")
		require.True(t, ok)
		assert.EqualValues(t, 42, v)
	})

	t.Run("configurations", func(t *testing.T) {
		reg, fake := startedFake(t)
		s, err := autosave.New(reg, "@hourly", autosave.WithConfigurations(true), autosave.WithStates(false))
		require.NoError(t, err)
		require.NoError(t, s.SaveNow())
		assert.Zero(t, fake.Saves.Load())
	})

	t.Run("state without data path fails", func(t *testing.T) {
		hub, _ := testutil.NewHub(t, []*modhub.ModuleConfig{testutil.FakeConfig("f", false, nil)})
		_, err := hub.Registry().StartModule("f", time.Second)
		require.NoError(t, err)

		s, err := autosave.New(hub.Registry(), "@hourly")
		require.NoError(t, err)
		assert.ErrorIs(t, s.SaveNow(), modhub.ErrNoStateManager)
		_, lastErr := s.LastResult()
		assert.Error(t, lastErr)
	})

	t.Run("skips after shutdown", func(t *testing.T) {
		reg, _ := startedFake(t)
		s, err := autosave.New(reg, "@hourly")
		require.NoError(t, err)
		require.NoError(t, reg.Shutdown(false, false))
		assert.NoError(t, s.SaveNow())
		assert.Zero(t, s.Runs())
	})
}

func TestSchedule(t *testing.T) {
	reg, fake := startedFake(t)
	s, err := autosave.New(reg, "@every 1s")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.Saves.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, s.Next().IsZero())

	cancel()
	require.NoError(t, <-done)
	runs := s.Runs()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, runs, s.Runs(), "no runs after stop")
}
