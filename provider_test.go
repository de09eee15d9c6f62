package modhub_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/internal/testutil"
)

// counter is a capability only some modules have.
type counter interface {
	modhub.Module
	Count() int64
}

type countingModule struct {
	*testutil.FakeModule
}

func (c *countingModule) Count() int64 { return c.Counter.Load() }

func newCounting(hub *modhub.Hub, cfg *modhub.ModuleConfig) (*countingModule, error) {
	c := &countingModule{FakeModule: &testutil.FakeModule{}}
	c.BaseModule = modhub.NewBaseModule(hub, c)
	return c, nil
}

func (c *countingModule) Init(ctx context.Context) error  { return nil }
func (c *countingModule) Start(ctx context.Context) error { return nil }
func (c *countingModule) Stop(ctx context.Context) error  { return nil }

func TestProviderRegistry(t *testing.T) {
	t.Run("should register and look up providers", func(t *testing.T) {
		p := modhub.NewProviderRegistry()
		require.NoError(t, testutil.RegisterFake(p))

		provider, ok := p.Lookup(testutil.FakeType)
		require.True(t, ok)
		assert.Equal(t, "Fake", provider.Name)
		assert.Len(t, p.Installed(), 1)

		_, ok = p.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("should reject bad registrations", func(t *testing.T) {
		p := modhub.NewProviderRegistry()
		require.NoError(t, testutil.RegisterFake(p))

		assert.ErrorIs(t, testutil.RegisterFake(p), modhub.ErrProviderAlreadyRegistered)
		assert.ErrorIs(t, p.Register(modhub.ProviderInfo{}, func(*modhub.Hub, *modhub.ModuleConfig) (modhub.Module, error) {
			return nil, nil
		}), modhub.ErrProviderTypeEmpty)
		assert.ErrorIs(t, p.Register(modhub.ProviderInfo{Type: "x"}, nil), modhub.ErrNilFactory)
		assert.Panics(t, func() {
			p.MustRegister(modhub.ProviderInfo{Type: testutil.FakeType}, func(*modhub.Hub, *modhub.ModuleConfig) (modhub.Module, error) {
				return nil, nil
			})
		})
	})

	t.Run("should default the name to the type tag", func(t *testing.T) {
		p := modhub.NewProviderRegistry()
		p.MustRegister(modhub.ProviderInfo{Type: "plain"}, func(h *modhub.Hub, c *modhub.ModuleConfig) (modhub.Module, error) {
			return testutil.NewFake(h, c)
		})
		provider, ok := p.Lookup("plain")
		require.True(t, ok)
		assert.Equal(t, "plain", provider.Name)
		assert.Nil(t, provider.ImplementationType())
	})

	t.Run("should wrap creation failures", func(t *testing.T) {
		p := modhub.NewProviderRegistry()
		boom := errors.New("no hardware")
		p.MustRegister(modhub.ProviderInfo{Type: "broken"}, func(*modhub.Hub, *modhub.ModuleConfig) (modhub.Module, error) {
			return nil, boom
		})
		p.MustRegister(modhub.ProviderInfo{Type: "nil"}, func(*modhub.Hub, *modhub.ModuleConfig) (modhub.Module, error) {
			var f *testutil.FakeModule
			return f, nil
		})

		_, err := p.Create(nil, &modhub.ModuleConfig{ID: "1", ModuleType: "broken"})
		assert.ErrorIs(t, err, modhub.ErrInstantiationFailure)
		assert.ErrorIs(t, err, boom)

		_, err = p.Create(nil, &modhub.ModuleConfig{ID: "1", ModuleType: "nil"})
		assert.ErrorIs(t, err, modhub.ErrNilModule)

		_, err = p.Create(nil, &modhub.ModuleConfig{ID: "1", ModuleType: "unknown"})
		assert.ErrorIs(t, err, modhub.ErrInstantiationFailure)
		assert.ErrorIs(t, err, modhub.ErrUnknownModuleType)
	})

	t.Run("should filter providers by capability", func(t *testing.T) {
		p := modhub.NewProviderRegistry()
		require.NoError(t, testutil.RegisterFake(p))
		require.NoError(t, modhub.RegisterProvider(p, modhub.ProviderInfo{Type: "counting"}, newCounting))

		counters := modhub.ProvidersOf[counter](p)
		require.Len(t, counters, 1)
		assert.Equal(t, "counting", counters[0].Type)
		assert.Len(t, modhub.ProvidersOf[modhub.Module](p), 2)
	})
}
