// Package testutil holds helpers shared by the package tests: environment
// isolation, a configurable fake module, an event recorder and a hub
// builder.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/modhub"
)

// FakeType is the type tag of FakeModule.
const FakeType = "test.fake"

var ErrInjected = errors.New("injected failure")

// FakeOptions drive the behaviour of a FakeModule from its configuration.
type FakeOptions struct {
	// FailOn and PanicOn name the primitive to break: init, start or stop.
	FailOn  string `yaml:"failOn"`
	PanicOn string `yaml:"panicOn"`

	InitDelay  time.Duration `yaml:"initDelay"`
	StartDelay time.Duration `yaml:"startDelay"`
	StopDelay  time.Duration `yaml:"stopDelay"`
}

// FakeModule counts its lifecycle calls and detects overlapping ones.
type FakeModule struct {
	*modhub.BaseModule

	Inits, Starts, Stops atomic.Int32
	Saves, Loads, Cleans atomic.Int32
	Overlaps             atomic.Int32
	Counter              atomic.Int64

	active atomic.Int32
}

var _ modhub.Module = (*FakeModule)(nil)

func NewFake(hub *modhub.Hub, _ *modhub.ModuleConfig) (*FakeModule, error) {
	f := &FakeModule{}
	f.BaseModule = modhub.NewBaseModule(hub, f)
	return f, nil
}

// RegisterFake installs the FakeModule provider.
func RegisterFake(p *modhub.ProviderRegistry) error {
	return modhub.RegisterProvider(p, modhub.ProviderInfo{
		Type:           FakeType,
		Name:           "Fake",
		Description:    "Lifecycle test double",
		Version:        "1.0.0",
		DefaultOptions: func() any { return FakeOptions{} },
	}, NewFake)
}

// FakeConfig returns a configuration for a FakeModule.
func FakeConfig(id string, autoStart bool, opts *FakeOptions) *modhub.ModuleConfig {
	cfg := &modhub.ModuleConfig{ID: id, Name: "fake " + id, ModuleType: FakeType, AutoStart: autoStart}
	if opts != nil {
		if err := cfg.SetOptions(opts); err != nil {
			panic(err)
		}
	}
	return cfg
}

func (f *FakeModule) options() FakeOptions {
	var opts FakeOptions
	_ = f.Configuration().DecodeOptions(&opts)
	return opts
}

func (f *FakeModule) step(ctx context.Context, name string, delay time.Duration, count *atomic.Int32) error {
	if f.active.Add(1) > 1 {
		f.Overlaps.Add(1)
	}
	defer f.active.Add(-1)
	count.Add(1)

	opts := f.options()
	if opts.PanicOn == name {
		panic(fmt.Sprintf("%s exploded", name))
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if opts.FailOn == name {
		return fmt.Errorf("%s: %w", name, ErrInjected)
	}
	return nil
}

func (f *FakeModule) Init(ctx context.Context) error {
	return f.step(ctx, "init", f.options().InitDelay, &f.Inits)
}

func (f *FakeModule) Start(ctx context.Context) error {
	return f.step(ctx, "start", f.options().StartDelay, &f.Starts)
}

func (f *FakeModule) Stop(ctx context.Context) error {
	return f.step(ctx, "stop", f.options().StopDelay, &f.Stops)
}

func (f *FakeModule) SaveState(sm modhub.StateManager) error {
	f.Saves.Add(1)
	sm.Put("counter", f.Counter.Load())
	return nil
}

func (f *FakeModule) LoadState(sm modhub.StateManager) error {
	f.Loads.Add(1)
	if v, ok := sm.Int64("counter"); ok {
		f.Counter.Store(v)
	}
	return nil
}

func (f *FakeModule) Cleanup() error {
	f.Cleans.Add(1)
	return nil
}
