// Package autosave persists the module registry on a cron schedule: the
// live module configurations, the module states, or both.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/GoCodeAlone/modhub"
)

var ErrNothingToSave = errors.New("autosave needs configurations, states or both")

// Saver runs SaveNow on a schedule. Runs never overlap; a run still going
// when the next one is due makes the next one skip.
type Saver struct {
	reg        *modhub.Registry
	logger     modhub.Logger
	saveConfig bool
	saveState  bool
	schedule   string

	cron  *cron.Cron
	entry cron.EntryID

	runs    atomic.Int64
	mu      sync.Mutex
	lastErr error
	lastRun time.Time
}

// Option configures a Saver.
type Option func(*Saver)

func WithLogger(l modhub.Logger) Option {
	return func(s *Saver) { s.logger = l }
}

// WithConfigurations saves the live module configurations.
func WithConfigurations(enabled bool) Option {
	return func(s *Saver) { s.saveConfig = enabled }
}

// WithStates saves the state of every live module. It is on by default.
func WithStates(enabled bool) Option {
	return func(s *Saver) { s.saveState = enabled }
}

// New creates a saver for a standard cron expression or descriptor such as
// "*/5 * * * *" or "@every 1m". It does not run until Start.
func New(reg *modhub.Registry, schedule string, opts ...Option) (*Saver, error) {
	s := &Saver{reg: reg, logger: modhub.NopLogger(), saveState: true, schedule: schedule}
	for _, opt := range opts {
		opt(s)
	}
	if !s.saveConfig && !s.saveState {
		return nil, ErrNothingToSave
	}

	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid autosave schedule %q: %w", schedule, err)
	}

	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.entry = s.cron.Schedule(sched, cron.FuncJob(func() { _ = s.SaveNow() }))
	return s, nil
}

func (s *Saver) Start() {
	s.cron.Start()
	s.logger.Info("Autosave started", "schedule", s.schedule)
}

// Stop stops the schedule and waits for a running save, at most until ctx
// is done.
func (s *Saver) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("autosave still running: %w", ctx.Err())
	}
}

// Run starts the saver and stops it when ctx is done.
func (s *Saver) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

// SaveNow saves immediately. A shut down registry is skipped, its shutdown
// already saved what it was asked to.
func (s *Saver) SaveNow() error {
	if s.reg.IsShutdown() {
		return nil
	}
	var err error
	if s.saveConfig {
		err = multierr.Append(err, s.reg.SaveModulesConfiguration())
	}
	if s.saveState {
		err = multierr.Append(err, s.reg.SaveAllModuleStates())
	}

	s.runs.Add(1)
	s.mu.Lock()
	s.lastErr = err
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Autosave failed", "error", err)
		return err
	}
	s.logger.Debug("Autosave completed", "configurations", s.saveConfig, "states", s.saveState)
	return nil
}

// Next returns the next scheduled run, zero before Start.
func (s *Saver) Next() time.Time { return s.cron.Entry(s.entry).Next }

// Runs returns the number of completed saves.
func (s *Saver) Runs() int64 { return s.runs.Load() }

// LastResult returns the time and error of the last save.
func (s *Saver) LastResult() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// cronLogger adapts modhub.Logger to cron.Logger.
type cronLogger struct {
	modhub.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.Logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.Logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
