package modhub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Shutdown stops every module and closes the config repository. Once it has
// begun, load and lifecycle requests fail with ErrShutdownRejected.
//
// With saveConfig the configuration of every module is written back to the
// repository; with saveState every module saves its state. A stop is then
// requested from every module and Shutdown waits until they all report
// STOPPED or the shutdown timeout elapses, whichever comes first. Modules
// still running at the deadline are logged and named in the returned error,
// wrapped in ErrShutdownIncomplete; their stop keeps running in the
// background.
//
// Calling Shutdown again is a no-op.
func (r *Registry) Shutdown(saveConfig, saveState bool) error {
	r.lifeMu.Lock()
	if r.shuttingDown.Load() {
		r.lifeMu.Unlock()
		r.logger.Debug("Module registry already shut down")
		return nil
	}
	r.shuttingDown.Store(true)
	r.lifeMu.Unlock()

	deadline := time.Now().Add(r.shutdownTimeout)
	modules := r.modules.Values()
	r.logger.Info("Module registry shutdown initiated", "modules", len(modules))
	r.logger.Info("Stopping all modules", "saveConfig", saveConfig, "saveState", saveState)

	var errs error

	// Step 1: persist and request a stop from every module
	for _, m := range modules {
		if saveConfig && r.repo != nil {
			if err := r.repo.Update(m.Configuration()); err != nil {
				r.logger.Error("Configuration could not be saved", "module", m.Name(), "id", m.ID(), "error", err)
				errs = multierr.Append(errs, err)
			}
		}

		if saveState {
			if err := r.saveState(m); err != nil && !errors.Is(err, ErrNoStateManager) {
				r.logger.Error("State could not be saved", "module", m.Name(), "id", m.ID(), "error", err)
				errs = multierr.Append(errs, err)
			}
		}

		if _, err := r.dispatcher.Submit(m.ID(), OpStop, func(ctx context.Context) { r.runStop(ctx, m) }); err != nil {
			r.logger.Error("Error during shutdown", "module", m.Name(), "id", m.ID(), "error", err)
		}
	}

	if saveConfig && r.repo != nil {
		if err := r.repo.Commit(); err != nil {
			r.logger.Error("Configuration could not be committed", "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	// Step 2: no new tasks; queued stops still run
	r.dispatcher.Close()

	// Step 3: wait for every module to stop, bounded by one global deadline
	r.waitAllStopped(modules, deadline)

	// Step 4: detach and report stragglers
	var notStopped []string
	for _, m := range modules {
		m.UnregisterListener(r.listener)
		if state := m.CurrentState(); state != StateStopped {
			if len(notStopped) == 0 {
				r.logger.Warn("The following modules could not be stopped")
			}
			r.logger.Warn("Module not stopped", "module", m.Name(), "id", m.ID(), "state", state.String())
			notStopped = append(notStopped, m.Name())
		}
	}
	if len(notStopped) > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s", ErrShutdownIncomplete, strings.Join(notStopped, ", ")))
	}

	// Step 5: release everything
	r.dispatcher.Cancel()
	r.modules.Clear()
	r.entities.Clear()
	for _, idx := range r.indexes {
		idx.Clear()
	}
	r.bus.ClearAllListeners()

	if r.repo != nil {
		if err := r.repo.Close(); err != nil {
			r.logger.Error("Config repository could not be closed", "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	r.logger.Info("Module registry shutdown complete")
	return errs
}

// IsShutdown reports whether Shutdown has been called.
func (r *Registry) IsShutdown() bool {
	return r.shuttingDown.Load()
}

func (r *Registry) waitAllStopped(modules []Module, deadline time.Time) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	expired := time.NewTimer(time.Until(deadline))
	defer expired.Stop()

	for {
		allStopped := true
		for _, m := range modules {
			if m.CurrentState() != StateStopped {
				allStopped = false
				break
			}
		}
		if allStopped {
			return
		}

		select {
		case <-ticker.C:
		case <-expired.C:
			return
		}
	}
}
