package configrepo

import (
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/multierr"

	"github.com/GoCodeAlone/modhub"
)

// ConfigDiff lists the module records that differ between two snapshots of
// a repository.
type ConfigDiff struct {
	Added   []*modhub.ModuleConfig
	Changed []*modhub.ModuleConfig
	Removed []*modhub.ModuleConfig

	Timestamp time.Time
}

// Empty reports whether the snapshots were equal.
func (d *ConfigDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

var configCompare = cmp.Options{
	cmpopts.EquateEmpty(),
}

// Diff compares two snapshots by module id. Added and Changed hold records
// from next in next's order; Removed holds records from prev.
func Diff(prev, next []*modhub.ModuleConfig) *ConfigDiff {
	d := &ConfigDiff{Timestamp: time.Now()}

	before := make(map[string]*modhub.ModuleConfig, len(prev))
	for _, cfg := range prev {
		before[cfg.ID] = cfg
	}
	seen := make(map[string]struct{}, len(next))
	for _, cfg := range next {
		seen[cfg.ID] = struct{}{}
		old, ok := before[cfg.ID]
		switch {
		case !ok:
			d.Added = append(d.Added, cfg)
		case !cmp.Equal(old, cfg, configCompare):
			d.Changed = append(d.Changed, cfg)
		}
	}
	for _, cfg := range prev {
		if _, ok := seen[cfg.ID]; !ok {
			d.Removed = append(d.Removed, cfg)
		}
	}
	return d
}

// Apply brings the registry in line with the diff: added records are
// loaded, changed records update their live module (or load it if it is not
// live) and removed records unload their module.
func (d *ConfigDiff) Apply(reg *modhub.Registry) error {
	var errs error
	for _, cfg := range d.Added {
		if _, err := reg.LoadModuleAsync(cfg.Clone(), nil); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, cfg := range d.Changed {
		var err error
		if reg.IsModuleLoaded(cfg.ID) {
			err = reg.UpdateModuleConfigAsync(cfg.Clone())
		} else {
			_, err = reg.LoadModuleAsync(cfg.Clone(), nil)
		}
		errs = multierr.Append(errs, err)
	}
	for _, cfg := range d.Removed {
		if reg.IsModuleLoaded(cfg.ID) {
			errs = multierr.Append(errs, reg.UnloadModule(cfg.ID))
		}
	}
	return errs
}
