package modhub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/internal/testutil"
)

// sensorModule stands for a physical device.
type sensorModule struct {
	*testutil.FakeModule
	serial string
}

func (s *sensorModule) UniqueIdentifier() string { return s.serial }

func registerSensor(t *testing.T, p *modhub.ProviderRegistry) {
	t.Helper()
	require.NoError(t, modhub.RegisterProvider(p, modhub.ProviderInfo{Type: "sensor"},
		func(h *modhub.Hub, cfg *modhub.ModuleConfig) (*sensorModule, error) {
			s := &sensorModule{FakeModule: &testutil.FakeModule{}, serial: "SN-" + cfg.ID}
			s.BaseModule = modhub.NewBaseModule(h, s)
			return s, nil
		}))
}

func TestEntityIndex(t *testing.T) {
	idx := modhub.NewEntityIndex()

	f, err := testutil.NewFake(nil, nil)
	require.NoError(t, err)
	f.SetConfiguration(testutil.FakeConfig("plain", false, nil))
	assert.False(t, idx.Add(f), "not an entity")

	s := &sensorModule{FakeModule: &testutil.FakeModule{}, serial: "SN-1"}
	s.BaseModule = modhub.NewBaseModule(nil, s)
	s.SetConfiguration(&modhub.ModuleConfig{ID: "s1", ModuleType: "sensor"})
	assert.True(t, idx.Add(s))

	found, ok := idx.Find("SN-1")
	require.True(t, ok)
	assert.Equal(t, "s1", found.ID())

	s.serial = "SN-2"
	assert.True(t, idx.Add(s))
	_, ok = idx.Find("SN-1")
	assert.False(t, ok, "stale identifier is dropped")
	assert.Len(t, idx.All(), 1)

	idx.Remove("s1")
	assert.Empty(t, idx.All())
}

func TestRegistry_Indexes(t *testing.T) {
	sensors := modhub.NewTypedIndex[*sensorModule]()
	hub, _ := testutil.NewHub(t, nil, modhub.WithIndexes(sensors))
	registerSensor(t, hub.Providers())
	reg := hub.Registry()

	_, err := reg.LoadModule(&modhub.ModuleConfig{ID: "s1", ModuleType: "sensor", AutoStart: true}, time.Second)
	require.NoError(t, err)
	_, err = reg.LoadModule(testutil.FakeConfig("f1", true, nil), time.Second)
	require.NoError(t, err)

	t.Run("should index initialized modules", func(t *testing.T) {
		assert.Equal(t, 1, sensors.Len())
		s, ok := sensors.Get("s1")
		require.True(t, ok)
		assert.Equal(t, "SN-s1", s.UniqueIdentifier())

		found, ok := reg.Entities().Find("SN-s1")
		require.True(t, ok)
		assert.Equal(t, "s1", found.ID())
	})

	t.Run("should drop unloaded modules", func(t *testing.T) {
		require.NoError(t, reg.UnloadModule("s1"))
		assert.Zero(t, sensors.Len())
		_, ok := reg.Entities().Find("SN-s1")
		assert.False(t, ok)
	})
}
