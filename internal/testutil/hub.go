package testutil

import (
	"testing"
	"time"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/configrepo"
)

// NewHub returns a hub over an in-memory repository holding configs, with
// the fake provider installed and short shutdown timings. The registry is
// shut down when the test ends.
func NewHub(t testing.TB, configs []*modhub.ModuleConfig, opts ...modhub.Option) (*modhub.Hub, *configrepo.Repository) {
	t.Helper()
	repo, err := configrepo.NewMemory(configs...)
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	providers := modhub.NewProviderRegistry()
	if err := RegisterFake(providers); err != nil {
		t.Fatalf("register fake: %v", err)
	}

	base := []modhub.Option{
		modhub.WithConfigRepository(repo),
		modhub.WithProviders(providers),
		modhub.WithShutdownTimeout(2 * time.Second),
		modhub.WithPollInterval(10 * time.Millisecond),
	}
	hub, err := modhub.NewHub(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Registry().Shutdown(false, false) })
	return hub, repo
}
