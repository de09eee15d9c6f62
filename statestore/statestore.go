// Package statestore provides state managers: per-module stores for runtime
// state that survives restarts, kept apart from module configuration.
package statestore

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/golobby/cast"
)

// Static errors for statestore package
var (
	ErrEmptyModuleID = errors.New("module id is empty")
	ErrEmptyKey      = errors.New("state key is empty")
)

// scalars holds string-encoded values and converts them on read.
type scalars map[string]string

func (s scalars) get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

func (s scalars) put(key string, value any) {
	s[key] = format(value)
}

func format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// convert parses a stored scalar into T.
func convert[T any](s scalars, key string) (T, bool) {
	var zero T
	raw, ok := s.get(key)
	if !ok {
		return zero, false
	}
	v, err := cast.FromType(strings.TrimSpace(raw), reflect.TypeFor[T]())
	if err != nil {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// SafeFileName turns a module id into a name usable as a directory on any
// platform.
func SafeFileName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || name == "." || name == ".." {
		name = strings.Repeat("_", max(len(name), 1))
	}
	return name
}

func blobName(key string) string {
	return SafeFileName(strings.ToLower(key)) + ".dat"
}
