// Package config holds the bootstrap configuration of a hub process: where
// module configurations live, where module state goes, timeouts, and the
// optional services around the registry.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/configrepo"
)

// Static errors for configuration package
var (
	ErrUnknownDriver   = errors.New("unknown module repository driver")
	ErrMissingPath     = errors.New("module repository path is required")
	ErrInvalidTimeout  = errors.New("invalid timeout")
	ErrInvalidLevel    = errors.New("invalid log level")
	ErrMissingAddress  = errors.New("admin address is required")
	ErrInvalidSchedule = errors.New("invalid autosave schedule")
	ErrNotWatchable    = errors.New("only file repositories can be watched")
)

// Module repository drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// EnvPrefix prefixes every environment override, e.g. MODHUB_DATA_PATH.
const EnvPrefix = "MODHUB"

// HubConfig is the bootstrap configuration of a hub process.
type HubConfig struct {
	Modules           ModulesConfig  `yaml:"modules" toml:"modules" env:"MODULES"`
	DataPath          string         `yaml:"dataPath" toml:"dataPath" env:"DATA_PATH"`
	ShutdownTimeout   time.Duration  `yaml:"shutdownTimeout" toml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	WorkerIdleTimeout time.Duration  `yaml:"workerIdleTimeout" toml:"workerIdleTimeout" env:"WORKER_IDLE_TIMEOUT"`
	Log               LogConfig      `yaml:"log" toml:"log" env:"LOG"`
	Watch             WatchConfig    `yaml:"watch" toml:"watch" env:"WATCH"`
	Admin             AdminConfig    `yaml:"admin" toml:"admin" env:"ADMIN"`
	Metrics           MetricsConfig  `yaml:"metrics" toml:"metrics" env:"METRICS"`
	Autosave          AutosaveConfig `yaml:"autosave" toml:"autosave" env:"AUTOSAVE"`
	EventLog          EventLogConfig `yaml:"eventLog" toml:"eventLog" env:"EVENT_LOG"`
}

// ModulesConfig selects the Config Repository.
type ModulesConfig struct {
	// Driver is file, sqlite or memory.
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
	// Path is the configuration file for the file driver and the DSN for
	// sqlite.
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

type LogConfig struct {
	Level       string `yaml:"level" toml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" toml:"development" env:"DEVELOPMENT"`
}

// WatchConfig enables live reload of a file repository.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce" env:"DEBOUNCE"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Address string `yaml:"address" toml:"address" env:"ADDRESS"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
}

// AutosaveConfig schedules periodic persistence. An empty schedule disables
// it.
type AutosaveConfig struct {
	Schedule   string `yaml:"schedule" toml:"schedule" env:"SCHEDULE"`
	SaveConfig bool   `yaml:"saveConfig" toml:"saveConfig" env:"SAVE_CONFIG"`
	SaveState  bool   `yaml:"saveState" toml:"saveState" env:"SAVE_STATE"`
}

// EventLogConfig enables the CloudEvents journal. An empty path disables it.
type EventLogConfig struct {
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *HubConfig {
	return &HubConfig{
		Modules: ModulesConfig{
			Driver: DriverFile,
			Path:   "modules.yaml",
		},
		DataPath:          ".moduledata",
		ShutdownTimeout:   modhub.DefaultShutdownTimeout,
		WorkerIdleTimeout: 10 * time.Second,
		Log:               LogConfig{Level: "info"},
		Watch:             WatchConfig{Debounce: configrepo.DefaultDebounce},
		Admin:             AdminConfig{Address: "127.0.0.1:8480"},
		Metrics:           MetricsConfig{Enabled: true},
		Autosave:          AutosaveConfig{SaveState: true},
	}
}

// Validate reports every problem of the configuration at once.
func (c *HubConfig) Validate() error {
	var err error

	switch c.Modules.Driver {
	case DriverFile, DriverSQLite:
		if c.Modules.Path == "" {
			err = multierr.Append(err, fmt.Errorf("%w for driver %s", ErrMissingPath, c.Modules.Driver))
		}
	case DriverMemory:
	default:
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrUnknownDriver, c.Modules.Driver))
	}

	if c.ShutdownTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: shutdownTimeout must be positive, got %s", ErrInvalidTimeout, c.ShutdownTimeout))
	}
	if c.WorkerIdleTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: workerIdleTimeout is negative", ErrInvalidTimeout))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidLevel, c.Log.Level))
	}

	if c.Watch.Enabled && c.Modules.Driver != DriverFile {
		err = multierr.Append(err, fmt.Errorf("%w, driver is %s", ErrNotWatchable, c.Modules.Driver))
	}
	if c.Watch.Debounce < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: watch debounce is negative", ErrInvalidTimeout))
	}

	if c.Admin.Enabled && c.Admin.Address == "" {
		err = multierr.Append(err, ErrMissingAddress)
	}

	if c.Autosave.Schedule != "" {
		if _, perr := cron.ParseStandard(c.Autosave.Schedule); perr != nil {
			err = multierr.Append(err, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, c.Autosave.Schedule, perr))
		}
	}
	return err
}

// OpenRepository opens the Config Repository the configuration selects.
func (c *ModulesConfig) OpenRepository() (*configrepo.Repository, error) {
	switch c.Driver {
	case DriverFile:
		return configrepo.OpenFile(c.Path)
	case DriverSQLite:
		return configrepo.OpenSQLite(c.Path)
	case DriverMemory:
		return configrepo.NewMemory()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
}

// HubOptions translates the configuration into hub options. The repository
// and logger are supplied by the caller.
func (c *HubConfig) HubOptions() []modhub.Option {
	opts := []modhub.Option{
		modhub.WithModuleDataPath(c.DataPath),
		modhub.WithShutdownTimeout(c.ShutdownTimeout),
	}
	if c.WorkerIdleTimeout > 0 {
		opts = append(opts, modhub.WithWorkerIdleTimeout(c.WorkerIdleTimeout))
	}
	return opts
}
