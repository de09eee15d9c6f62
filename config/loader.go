package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/GoCodeAlone/modhub/feeders"
)

// Source priorities. Sources are fed in ascending priority, so a higher
// priority overrides a lower one.
const (
	PriorityFile = 10
	PriorityEnv  = 20
)

// ConfigSource describes one place configuration was read from.
type ConfigSource struct {
	Name       string     `json:"name"`     // e.g. "environment", "yaml-file"
	Type       string     `json:"type"`     // env, yaml, json, toml
	Location   string     `json:"location"` // file path or env prefix
	Priority   int        `json:"priority"`
	Loaded     bool       `json:"loaded"`
	LastLoaded *time.Time `json:"last_loaded,omitempty"`
	Error      string     `json:"error,omitempty"`

	feeder feeders.Feeder
}

// FieldProvenance tells where the effective value of a field came from.
type FieldProvenance struct {
	FieldPath    string `json:"field_path"`
	Source       string `json:"source"`        // env, yaml, toml, json or default
	SourceDetail string `json:"source_detail"` // variable name or file path
	Value        any    `json:"value"`
}

type trackable interface {
	SetFieldTracker(t feeders.FieldTracker)
}

// Loader applies DefaultConfig, then each source in priority order, then
// validation, and remembers which source set each field.
type Loader struct {
	sources []*ConfigSource
	tracker *feeders.DefaultFieldTracker
}

func NewLoader() *Loader {
	return &Loader{}
}

// AddFile adds a configuration file source. An optional file may be absent.
func (l *Loader) AddFile(path string, optional bool) *Loader {
	f := feeders.NewFileFeeder(path)
	f.Optional = optional
	format, err := f.Format()
	if err != nil {
		format = "file"
	}
	return l.AddSource(&ConfigSource{
		Name:     format + "-file",
		Type:     format,
		Location: path,
		Priority: PriorityFile,
		feeder:   f,
	})
}

// AddEnv adds the environment source for variables starting with prefix.
func (l *Loader) AddEnv(prefix string) *Loader {
	return l.AddSource(&ConfigSource{
		Name:     "environment",
		Type:     "env",
		Location: prefix,
		Priority: PriorityEnv,
		feeder:   feeders.NewEnvFeeder(prefix),
	})
}

// AddFeeder adds a custom source.
func (l *Loader) AddFeeder(name string, priority int, f feeders.Feeder) *Loader {
	return l.AddSource(&ConfigSource{Name: name, Type: name, Priority: priority, feeder: f})
}

func (l *Loader) AddSource(src *ConfigSource) *Loader {
	l.sources = append(l.sources, src)
	return l
}

// Load returns the validated configuration. The first failing source stops
// loading; its error is also kept on the source.
func (l *Loader) Load() (*HubConfig, error) {
	cfg := DefaultConfig()
	l.tracker = feeders.NewDefaultFieldTracker()

	ordered := slices.Clone(l.sources)
	slices.SortStableFunc(ordered, func(a, b *ConfigSource) int { return a.Priority - b.Priority })

	for _, src := range ordered {
		if t, ok := src.feeder.(trackable); ok {
			t.SetFieldTracker(l.tracker)
		}
		if err := src.feeder.Feed(cfg); err != nil {
			src.Loaded = false
			src.Error = err.Error()
			return nil, fmt.Errorf("failed to load configuration from %s: %w", src.Name, err)
		}
		now := time.Now()
		src.Loaded = true
		src.LastLoaded = &now
		src.Error = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Sources returns the sources in the order they were added.
func (l *Loader) Sources() []*ConfigSource {
	return slices.Clone(l.sources)
}

// Provenance returns where the effective value of fieldPath (a dotted key
// path such as "admin.address") came from. Fields no source set report
// "default".
func (l *Loader) Provenance(fieldPath string) FieldProvenance {
	if l.tracker != nil {
		if fp, ok := l.tracker.Latest(fieldPath); ok {
			return FieldProvenance{
				FieldPath:    fieldPath,
				Source:       fp.SourceType,
				SourceDetail: fp.SourceKey,
				Value:        fp.Value,
			}
		}
	}
	return FieldProvenance{FieldPath: fieldPath, Source: "default"}
}

// Load reads the configuration file at path (optional when empty) and the
// MODHUB_ environment overrides.
func Load(path string) (*HubConfig, *Loader, error) {
	l := NewLoader()
	if path != "" {
		l.AddFile(path, false)
	}
	l.AddEnv(EnvPrefix)
	cfg, err := l.Load()
	if err != nil {
		return nil, l, err
	}
	return cfg, l, nil
}
