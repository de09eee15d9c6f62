// Package metrics exports the module registry to Prometheus.
//
// Usage:
//
//	c := metrics.NewCollector(hub.Registry(), "modhub")
//	prometheus.MustRegister(c)
//	c.Attach()
//	http.Handle("/metrics", promhttp.Handler())
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modhub"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "modhub"

var allStates = []modhub.ModuleState{
	modhub.StateLoaded,
	modhub.StateInitializing,
	modhub.StateInitialized,
	modhub.StateStarting,
	modhub.StateStarted,
	modhub.StateStopping,
	modhub.StateStopped,
	modhub.StateError,
}

// Collector implements prometheus.Collector. Module states are read from the
// registry on scrape:
//
//	modhub_module_state{module="gps-1",type="gps",state="STARTED"} 1
//	modhub_modules_loaded 3
//
// Counters are driven by registry events once Attach was called:
//
//	modhub_module_transitions_total{state="STARTED"}
//	modhub_module_errors_total{module="gps-1"}
//	modhub_registry_events_total{type="LOADED"}
type Collector struct {
	reg *modhub.Registry

	stateDesc  *prometheus.Desc
	loadedDesc *prometheus.Desc

	transitions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	events      *prometheus.CounterVec
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for reg. namespace defaults to
// DefaultNamespace.
func NewCollector(reg *modhub.Registry, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{
		reg: reg,
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "module", "state"),
			"Current lifecycle state of each loaded module (1 for the current state)",
			[]string{"module", "type", "state"}, nil,
		),
		loadedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "modules", "loaded"),
			"Number of modules in the registry",
			nil, nil,
		),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "transitions_total",
			Help:      "Module state changes by target state",
		}, []string{"state"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "errors_total",
			Help:      "Errors reported by modules",
		}, []string{"module"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Registry notifications by type",
		}, []string{"type"}),
	}
}

// Attach starts counting registry events.
func (c *Collector) Attach() { c.reg.RegisterListener(c) }

// Detach stops counting registry events.
func (c *Collector) Detach() { c.reg.UnregisterListener(c) }

func (c *Collector) HandleEvent(e modhub.Event) {
	me, ok := e.(*modhub.ModuleEvent)
	if !ok || me.Replay {
		return
	}
	switch me.Type {
	case modhub.EventStateChanged:
		c.transitions.WithLabelValues(me.NewState.String()).Inc()
	case modhub.EventError:
		c.errors.WithLabelValues(me.ModuleID).Inc()
	default:
		c.events.WithLabelValues(string(me.Type)).Inc()
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.loadedDesc
	c.transitions.Describe(ch)
	c.errors.Describe(ch)
	c.events.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	modules := c.reg.LoadedModules()
	for _, m := range modules {
		moduleType := ""
		if cfg := m.Configuration(); cfg != nil {
			moduleType = cfg.ModuleType
		}
		current := m.CurrentState()
		for _, s := range allStates {
			v := 0.0
			if s == current {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, v, m.ID(), moduleType, s.String())
		}
	}
	ch <- prometheus.MustNewConstMetric(c.loadedDesc, prometheus.GaugeValue, float64(len(modules)))

	c.transitions.Collect(ch)
	c.errors.Collect(ch)
	c.events.Collect(ch)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
