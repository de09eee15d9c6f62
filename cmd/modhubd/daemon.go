package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/adminapi"
	"github.com/GoCodeAlone/modhub/autosave"
	"github.com/GoCodeAlone/modhub/config"
	"github.com/GoCodeAlone/modhub/configrepo"
	"github.com/GoCodeAlone/modhub/eventlog"
	"github.com/GoCodeAlone/modhub/health"
	"github.com/GoCodeAlone/modhub/internal/logging"
	"github.com/GoCodeAlone/modhub/metrics"
	"github.com/GoCodeAlone/modhub/modules/heartbeat"
)

const healthInterval = 30 * time.Second

// daemon runs one hub and the services its configuration enables until the
// context is cancelled, then shuts the registry down.
type daemon struct {
	cfg       *config.HubConfig
	logger    *logging.Adapter
	providers *modhub.ProviderRegistry

	// onReady is called once modules were loaded; admin is nil when the
	// admin API is disabled.
	onReady func(hub *modhub.Hub, admin net.Addr)
}

// installProviders registers every module type the daemon ships with.
func installProviders() (*modhub.ProviderRegistry, error) {
	p := modhub.NewProviderRegistry()
	if err := heartbeat.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

func newDaemon(cfg *config.HubConfig, logger *logging.Adapter) (*daemon, error) {
	providers, err := installProviders()
	if err != nil {
		return nil, err
	}
	return &daemon{cfg: cfg, logger: logger, providers: providers}, nil
}

func (d *daemon) run(ctx context.Context) (err error) {
	repo, err := d.cfg.Modules.OpenRepository()
	if err != nil {
		return fmt.Errorf("cannot open module configuration: %w", err)
	}

	opts := append(d.cfg.HubOptions(),
		modhub.WithLogger(d.logger.Named("registry")),
		modhub.WithConfigRepository(repo),
		modhub.WithProviders(d.providers),
	)
	hub, err := modhub.NewHub(opts...)
	if err != nil {
		_ = repo.Close()
		return err
	}
	reg := hub.Registry()

	// the journal outlives the service group so shutdown events are kept
	var journal *eventlog.Journal
	journalDone := make(chan error, 1)
	if path := d.cfg.EventLog.Path; path != "" {
		journal, err = eventlog.Open(path, eventlog.WithLogger(d.logger.Named("journal")))
		if err != nil {
			return multierr.Append(err, reg.Shutdown(false, false))
		}
		journal.Attach(reg)
		go func() { journalDone <- journal.Run(context.Background()) }()
	}
	defer func() {
		err = multierr.Append(err, reg.Shutdown(true, true))
		if journal != nil {
			_ = journal.Close()
			err = multierr.Append(err, <-journalDone)
			err = multierr.Append(err, journal.CloseFile())
		}
		d.logger.Info("Hub stopped")
	}()

	agg := health.ForRegistry(reg, nil)
	agg.OnStatusChange(func(_ context.Context, prev, cur *health.AggregatedStatus) {
		from := health.StatusUnknown
		if prev != nil {
			from = prev.OverallStatus
		}
		d.logger.Info("Hub health changed", "from", from, "to", cur.OverallStatus)
	})

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	// services stop before the registry shuts down, also on a failed setup
	defer func() {
		cancel()
		_ = g.Wait()
	}()
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	g.Go(func() error { return health.NewMonitor(agg).Run(gctx, healthInterval) })

	var adminAddr net.Addr
	if d.cfg.Admin.Enabled {
		adminOpts := []adminapi.Option{
			adminapi.WithLogger(d.logger.Named("admin")),
			adminapi.WithHealth(agg),
		}
		if d.cfg.Metrics.Enabled {
			adminOpts = append(adminOpts, adminapi.WithMetrics(metricsHandler(reg)))
		}
		srv := adminapi.New(reg, adminOpts...)
		l, err := net.Listen("tcp", d.cfg.Admin.Address)
		if err != nil {
			return fmt.Errorf("cannot listen on %s: %w", d.cfg.Admin.Address, err)
		}
		adminAddr = l.Addr()
		g.Go(func() error { return srv.Serve(gctx, l) })
	}

	if sched := d.cfg.Autosave.Schedule; sched != "" {
		saver, err := autosave.New(reg, sched,
			autosave.WithLogger(d.logger.Named("autosave")),
			autosave.WithConfigurations(d.cfg.Autosave.SaveConfig),
			autosave.WithStates(d.cfg.Autosave.SaveState),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return saver.Run(gctx) })
	}

	if d.cfg.Watch.Enabled {
		w, err := configrepo.NewWatcher(repo, func(diff *configrepo.ConfigDiff) {
			if err := diff.Apply(reg); err != nil {
				d.logger.Error("Configuration change not fully applied", "error", err)
			}
		},
			configrepo.WithWatcherLogger(d.logger.Named("watch")),
			configrepo.WithDebounce(d.cfg.Watch.Debounce),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := reg.LoadAllModules(); err != nil {
		d.logger.Warn("Some modules failed to load", "error", err)
	}
	d.logger.Info("Hub started", "modules", len(reg.LoadedModules()), "repository", d.cfg.Modules.Path)
	if d.onReady != nil {
		d.onReady(hub, adminAddr)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// metricsHandler serves the registry collector next to the Go runtime and
// process collectors.
func metricsHandler(reg *modhub.Registry) http.Handler {
	promReg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg, metrics.DefaultNamespace)
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c,
	)
	c.Attach()
	return metrics.Handler(promReg)
}
