package modhub

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ModuleConfig is the configuration record of one module. The Config
// Repository owns the stored copy; every module instance works on its own
// clone and only changes it through UpdateConfig.
type ModuleConfig struct {
	// ID is the stable, globally unique identifier of the module. It keys the
	// registry table, the state folder and the module's event producer.
	// LoadModuleAsync generates one when empty.
	ID string `json:"id" yaml:"id" toml:"id"`

	// Name is the human-readable module name.
	Name string `json:"name" yaml:"name" toml:"name"`

	// ModuleType is the type tag of the provider that builds the module.
	ModuleType string `json:"moduleType" yaml:"moduleType" toml:"moduleType"`

	// AutoStart asks the registry to start the module as soon as it is loaded.
	AutoStart bool `json:"autoStart" yaml:"autoStart" toml:"autoStart"`

	// Options is the implementation specific block, decoded by the module
	// with DecodeOptions.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c *ModuleConfig) Clone() *ModuleConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Options != nil {
		clone.Options = cloneValue(c.Options).(map[string]any)
	}
	return &clone
}

// DecodeOptions decodes the options block into target, which must be a
// pointer. The block is re-marshalled through YAML so values read from any
// repository format (including durations written as "5s") land in typed
// struct fields.
func (c *ModuleConfig) DecodeOptions(target any) error {
	if c == nil || len(c.Options) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options of module %s: %w", c.ID, err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode options of module %s: %w", c.ID, err)
	}
	return nil
}

// SetOptions replaces the options block with the YAML encoding of v.
func (c *ModuleConfig) SetOptions(v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	options := map[string]any{}
	if err := yaml.Unmarshal(raw, &options); err != nil {
		return fmt.Errorf("failed to convert options: %w", err)
	}
	c.Options = options
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	case []map[string]any:
		s := make([]map[string]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x).(map[string]any)
		}
		return s
	default:
		return v
	}
}
