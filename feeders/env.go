// Package feeders fills configuration structs from files and environment
// variables.
package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// Feeder populates a configuration struct.
type Feeder interface {
	Feed(structure any) error
}

// EnvFeeder reads environment variables named after the env tags of the
// struct fields, upper-cased and joined with the prefix:
//
//	type Config struct {
//		DataPath string `env:"DATA_PATH"`   // MODHUB_DATA_PATH
//		Admin    struct {
//			Address string `env:"ADDRESS"` // MODHUB_ADMIN_ADDRESS
//		} `env:"ADMIN"`
//	}
//
// A nested struct without env tag shares its parent's prefix. Empty
// variables are ignored.
type EnvFeeder struct {
	Prefix  string
	tracker FieldTracker
}

func NewEnvFeeder(prefix string) *EnvFeeder {
	return &EnvFeeder{Prefix: prefix}
}

// SetFieldTracker sets the tracker told about every field the feeder sets.
func (f *EnvFeeder) SetFieldTracker(t FieldTracker) { f.tracker = t }

func (f *EnvFeeder) Feed(structure any) error {
	if f.Prefix == "" {
		return ErrEmptyPrefix
	}
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return wrapStructureError(structure)
	}
	return f.fillStruct(rv.Elem(), strings.TrimSuffix(strings.ToUpper(f.Prefix), "_"), "")
}

func (f *EnvFeeder) fillStruct(rv reflect.Value, prefix, path string) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		fieldPath := keyName(sf)
		if path != "" {
			fieldPath = path + "." + fieldPath
		}
		tag, tagged := sf.Tag.Lookup("env")

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeFor[time.Time]() {
			nested := prefix
			if tagged && tag != "" {
				nested = prefix + "_" + strings.ToUpper(tag)
			}
			if err := f.fillStruct(field, nested, fieldPath); err != nil {
				return err
			}
			continue
		}
		if !tagged || tag == "" {
			continue
		}

		name := prefix + "_" + strings.ToUpper(tag)
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValue(field, name, raw); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldPath, err)
		}
		if f.tracker != nil {
			f.tracker.RecordFieldPopulation(FieldPopulation{
				FieldPath:  fieldPath,
				FeederType: "EnvFeeder",
				SourceType: "env",
				SourceKey:  name,
				Value:      field.Interface(),
			})
		}
	}
	return nil
}

// keyName is the file key of a field: its yaml tag name, or the field name.
func keyName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("yaml"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return sf.Name
}

// setFieldValue converts raw to the field type. Durations use
// time.ParseDuration, slices are comma separated.
func setFieldValue(field reflect.Value, key, raw string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}
	raw = strings.TrimSpace(raw)

	switch {
	case field.Type() == reflect.TypeFor[time.Duration]():
		d, err := time.ParseDuration(raw)
		if err != nil {
			return wrapConvertError(key, field.Type().String(), err)
		}
		field.SetInt(int64(d))
		return nil
	case field.Kind() == reflect.Slice:
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, part := range parts {
			v, err := cast.FromType(strings.TrimSpace(part), field.Type().Elem())
			if err != nil {
				return wrapConvertError(key, field.Type().String(), err)
			}
			slice = reflect.Append(slice, reflect.ValueOf(v).Convert(field.Type().Elem()))
		}
		field.Set(slice)
		return nil
	}

	v, err := cast.FromType(raw, field.Type())
	if err != nil {
		return wrapConvertError(key, field.Type().String(), err)
	}
	field.Set(reflect.ValueOf(v).Convert(field.Type()))
	return nil
}
