package configrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhub"
)

// Format is the encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// document is the on-disk shape shared by all file formats.
type document struct {
	Modules []*modhub.ModuleConfig `json:"modules" yaml:"modules" toml:"modules"`
}

// OpenFile opens a repository backed by a single file. The format follows
// the extension. A missing file is an empty repository; it is created on
// the first Commit.
func OpenFile(path string) (*Repository, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	return open(&fileBackend{path: path, format: format})
}

type fileBackend struct {
	path   string
	format Format
}

func (b *fileBackend) load() ([]*modhub.ModuleConfig, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read module configuration %s: %w", b.path, err)
	}
	doc, err := decode(b.format, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse module configuration %s: %w", b.path, err)
	}
	return doc.Modules, nil
}

func (b *fileBackend) store(configs []*modhub.ModuleConfig) error {
	raw, err := encode(b.format, &document{Modules: configs})
	if err != nil {
		return fmt.Errorf("failed to encode module configuration: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) close() error { return nil }

func decode(format Format, raw []byte) (*document, error) {
	doc := &document{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(raw, doc)
	case FormatTOML:
		err = toml.Unmarshal(raw, doc)
	case FormatJSON:
		err = json.Unmarshal(raw, doc)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return doc, err
}

func encode(format Format, doc *document) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
