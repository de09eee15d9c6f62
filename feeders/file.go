package feeders

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileFeeder decodes a YAML, TOML or JSON file, chosen by extension, over
// the fields already set in the struct. With Optional, a missing file is
// not an error.
//
// JSON is read with the YAML decoder, which accepts it as a subset, so
// yaml tags apply to both and durations may be written as "5s".
type FileFeeder struct {
	Path     string
	Optional bool
	tracker  FieldTracker
}

func NewFileFeeder(path string) *FileFeeder {
	return &FileFeeder{Path: path}
}

func (f *FileFeeder) SetFieldTracker(t FieldTracker) { f.tracker = t }

// Format returns yaml, toml or json.
func (f *FileFeeder) Format() (string, error) {
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, f.Path)
	}
}

func (f *FileFeeder) Feed(structure any) error {
	format, err := f.Format()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if f.Optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	var keys map[string]any
	switch format {
	case "yaml", "json":
		err = yaml.Unmarshal(raw, structure)
		if err == nil {
			err = yaml.Unmarshal(raw, &keys)
		}
	case "toml":
		err = toml.Unmarshal(raw, structure)
		if err == nil {
			err = toml.Unmarshal(raw, &keys)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.Path, err)
	}

	if f.tracker != nil {
		f.record(format, "", keys)
	}
	return nil
}

// record reports every leaf key of the decoded document.
func (f *FileFeeder) record(format, prefix string, keys map[string]any) {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := keys[k].(map[string]any); ok {
			f.record(format, path, nested)
			continue
		}
		f.tracker.RecordFieldPopulation(FieldPopulation{
			FieldPath:  path,
			FeederType: "FileFeeder",
			SourceType: format,
			SourceKey:  f.Path,
			Value:      keys[k],
		})
	}
}
