package modhub_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/configrepo"
	"github.com/GoCodeAlone/modhub/internal/testutil"
)

var (
	errHubNotCreated    = errors.New("hub was not created in background")
	errNoRequestError   = errors.New("expected the request to fail")
	errUnexpectedResult = errors.New("unexpected result")
)

const bddWait = 2 * time.Second

// RegistryBDDContext holds the state of one scenario.
type RegistryBDDContext struct {
	repo            *configrepo.Repository
	providers       *modhub.ProviderRegistry
	shutdownTimeout time.Duration

	hub        *modhub.Hub
	requestErr error

	mu       sync.Mutex
	notified []modhub.ModuleEventType
}

func (c *RegistryBDDContext) reset() {
	if c.hub != nil {
		_ = c.hub.Registry().Shutdown(false, false)
	}
	c.repo = nil
	c.providers = nil
	c.shutdownTimeout = 0
	c.hub = nil
	c.requestErr = nil

	c.mu.Lock()
	c.notified = nil
	c.mu.Unlock()
}

func (c *RegistryBDDContext) aHubWithTheFakeModuleTypeInstalled() error {
	repo, err := configrepo.NewMemory()
	if err != nil {
		return err
	}
	c.repo = repo
	c.providers = modhub.NewProviderRegistry()
	c.shutdownTimeout = bddWait
	return testutil.RegisterFake(c.providers)
}

// registry builds the hub lazily so Given steps can still tune options.
func (c *RegistryBDDContext) registry() (*modhub.Registry, error) {
	if c.providers == nil {
		return nil, errHubNotCreated
	}
	if c.hub == nil {
		hub, err := modhub.NewHub(
			modhub.WithConfigRepository(c.repo),
			modhub.WithProviders(c.providers),
			modhub.WithShutdownTimeout(c.shutdownTimeout),
			modhub.WithPollInterval(10*time.Millisecond),
		)
		if err != nil {
			return nil, err
		}
		c.hub = hub
	}
	return c.hub.Registry(), nil
}

func (c *RegistryBDDContext) theShutdownTimeoutIs(d string) error {
	timeout, err := time.ParseDuration(d)
	if err != nil {
		return err
	}
	c.shutdownTimeout = timeout
	return nil
}

func (c *RegistryBDDContext) store(id string, autoStart bool, opts *testutil.FakeOptions) error {
	return c.repo.Update(testutil.FakeConfig(id, autoStart, opts))
}

func (c *RegistryBDDContext) theRepositoryHoldsAModule(id string) error {
	return c.store(id, false, nil)
}

func (c *RegistryBDDContext) theRepositoryHoldsAnAutoStartModule(id string) error {
	return c.store(id, true, nil)
}

func (c *RegistryBDDContext) theRepositoryHoldsAModuleFailingOn(id, step string) error {
	return c.store(id, false, &testutil.FakeOptions{FailOn: step})
}

func delayed(step, d string) (*testutil.FakeOptions, error) {
	delay, err := time.ParseDuration(d)
	if err != nil {
		return nil, err
	}
	opts := &testutil.FakeOptions{}
	switch step {
	case "init":
		opts.InitDelay = delay
	case "start":
		opts.StartDelay = delay
	case "stop":
		opts.StopDelay = delay
	default:
		return nil, fmt.Errorf("%w: step %q", errUnexpectedResult, step)
	}
	return opts, nil
}

func (c *RegistryBDDContext) theRepositoryHoldsAModuleDelaying(id, step, d string) error {
	opts, err := delayed(step, d)
	if err != nil {
		return err
	}
	return c.store(id, false, opts)
}

func (c *RegistryBDDContext) theRepositoryHoldsAnAutoStartModuleDelaying(id, step, d string) error {
	opts, err := delayed(step, d)
	if err != nil {
		return err
	}
	return c.store(id, true, opts)
}

func (c *RegistryBDDContext) iLoadAllModules() error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	return reg.LoadAllModules()
}

func (c *RegistryBDDContext) iStartModule(id string) error {
	return c.iStartModuleWithin(id, bddWait.String())
}

func (c *RegistryBDDContext) iStartModuleWithin(id, d string) error {
	timeout, err := time.ParseDuration(d)
	if err != nil {
		return err
	}
	reg, err := c.registry()
	if err != nil {
		return err
	}
	_, c.requestErr = reg.StartModule(id, timeout)
	return nil
}

func (c *RegistryBDDContext) iDestroyModule(id string) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	c.requestErr = reg.DestroyModule(id)
	return nil
}

func (c *RegistryBDDContext) aDependentWatchesModule(id string) error {
	if _, err := c.registry(); err != nil {
		return err
	}
	c.hub.EventBus().RegisterListener(id, modhub.OnModuleEvent(id, func(e *modhub.ModuleEvent) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.notified = append(c.notified, e.Type)
	}, modhub.EventDeleted, modhub.EventUnloaded))
	return nil
}

func (c *RegistryBDDContext) iShutTheRegistryDown() error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	c.requestErr = reg.Shutdown(false, false)
	return nil
}

func (c *RegistryBDDContext) module(id string) (modhub.Module, error) {
	reg, err := c.registry()
	if err != nil {
		return nil, err
	}
	m, ok := reg.LoadedModule(id)
	if !ok {
		return nil, fmt.Errorf("%w: module %s is not loaded", errUnexpectedResult, id)
	}
	return m, nil
}

func (c *RegistryBDDContext) moduleShouldReachState(id, state string) error {
	want, err := modhub.ParseModuleState(state)
	if err != nil {
		return err
	}
	m, err := c.module(id)
	if err != nil {
		return err
	}
	if !m.WaitForState(want, bddWait) {
		return fmt.Errorf("%w: module %s is %s, want %s", errUnexpectedResult, id, m.CurrentState(), want)
	}
	return nil
}

func (c *RegistryBDDContext) moduleShouldBeInState(id, state string) error {
	want, err := modhub.ParseModuleState(state)
	if err != nil {
		return err
	}
	m, err := c.module(id)
	if err != nil {
		return err
	}
	if got := m.CurrentState(); got != want {
		return fmt.Errorf("%w: module %s is %s, want %s", errUnexpectedResult, id, got, want)
	}
	return nil
}

func (c *RegistryBDDContext) moduleShouldHaveBeenInitializedTimes(id string, n int) error {
	m, err := c.module(id)
	if err != nil {
		return err
	}
	f, ok := m.(*testutil.FakeModule)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedResult, m)
	}
	if got := int(f.Inits.Load()); got != n {
		return fmt.Errorf("%w: %d initializations, want %d", errUnexpectedResult, got, n)
	}
	return nil
}

func (c *RegistryBDDContext) requestShouldFailWith(target error) error {
	if c.requestErr == nil {
		return errNoRequestError
	}
	if !errors.Is(c.requestErr, target) {
		return fmt.Errorf("%w: got %v, want %v", errUnexpectedResult, c.requestErr, target)
	}
	return nil
}

func (c *RegistryBDDContext) theRequestShouldFailWithATransitionFailure() error {
	return c.requestShouldFailWith(modhub.ErrTransitionFailure)
}

func (c *RegistryBDDContext) theRequestShouldFailWithATimeout() error {
	return c.requestShouldFailWith(modhub.ErrTimeout)
}

func (c *RegistryBDDContext) theRequestShouldFailWithAnUnknownModuleError() error {
	return c.requestShouldFailWith(modhub.ErrUnknownModule)
}

func (c *RegistryBDDContext) theDependentShouldHaveBeenTold(eventType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.notified {
		if string(t) == eventType {
			return nil
		}
	}
	return fmt.Errorf("%w: dependent got %v, want %s", errUnexpectedResult, c.notified, eventType)
}

func (c *RegistryBDDContext) theRepositoryShouldNotContain(id string) error {
	if c.repo.Contains(id) {
		return fmt.Errorf("%w: repository still holds %s", errUnexpectedResult, id)
	}
	return nil
}

func (c *RegistryBDDContext) theShutdownShouldReportAsNotStopped(name string) error {
	if err := c.requestShouldFailWith(modhub.ErrShutdownIncomplete); err != nil {
		return err
	}
	if !strings.Contains(c.requestErr.Error(), name) {
		return fmt.Errorf("%w: %v does not name %s", errUnexpectedResult, c.requestErr, name)
	}
	return nil
}

// InitializeRegistryScenario wires the module registry steps.
func InitializeRegistryScenario(ctx *godog.ScenarioContext) {
	c := &RegistryBDDContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		c.reset()
		return ctx, nil
	})

	// Background steps
	ctx.Step(`^a hub with the fake module type installed$`, c.aHubWithTheFakeModuleTypeInstalled)
	ctx.Step(`^the shutdown timeout is "([^"]*)"$`, c.theShutdownTimeoutIs)

	// Repository steps
	ctx.Step(`^the repository holds a module "([^"]*)"$`, c.theRepositoryHoldsAModule)
	ctx.Step(`^the repository holds an auto-start module "([^"]*)"$`, c.theRepositoryHoldsAnAutoStartModule)
	ctx.Step(`^the repository holds a module "([^"]*)" failing on "([^"]*)"$`, c.theRepositoryHoldsAModuleFailingOn)
	ctx.Step(`^the repository holds a module "([^"]*)" delaying "([^"]*)" by "([^"]*)"$`, c.theRepositoryHoldsAModuleDelaying)
	ctx.Step(`^the repository holds an auto-start module "([^"]*)" delaying "([^"]*)" by "([^"]*)"$`, c.theRepositoryHoldsAnAutoStartModuleDelaying)
	ctx.Step(`^the repository should not contain "([^"]*)"$`, c.theRepositoryShouldNotContain)

	// Lifecycle steps
	ctx.Step(`^I load all modules$`, c.iLoadAllModules)
	ctx.Step(`^I start module "([^"]*)"$`, c.iStartModule)
	ctx.Step(`^I start module "([^"]*)" within "([^"]*)"$`, c.iStartModuleWithin)
	ctx.Step(`^I destroy module "([^"]*)"$`, c.iDestroyModule)
	ctx.Step(`^I shut the registry down$`, c.iShutTheRegistryDown)
	ctx.Step(`^module "([^"]*)" should reach state "([^"]*)"$`, c.moduleShouldReachState)
	ctx.Step(`^module "([^"]*)" should be in state "([^"]*)"$`, c.moduleShouldBeInState)
	ctx.Step(`^module "([^"]*)" should have been initialized (\d+) times?$`, c.moduleShouldHaveBeenInitializedTimes)

	// Outcome steps
	ctx.Step(`^the request should fail with a transition failure$`, c.theRequestShouldFailWithATransitionFailure)
	ctx.Step(`^the request should fail with a timeout$`, c.theRequestShouldFailWithATimeout)
	ctx.Step(`^the request should fail with an unknown module error$`, c.theRequestShouldFailWithAnUnknownModuleError)
	ctx.Step(`^a dependent watches module "([^"]*)"$`, c.aDependentWatchesModule)
	ctx.Step(`^the dependent should have been told "([^"]*)"$`, c.theDependentShouldHaveBeenTold)
	ctx.Step(`^the shutdown should report "([^"]*)" as not stopped$`, c.theShutdownShouldReportAsNotStopped)
}

// TestModuleRegistryFeatures runs the BDD scenarios of the module registry.
func TestModuleRegistryFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeRegistryScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/module_registry.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
