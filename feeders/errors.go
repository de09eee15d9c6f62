package feeders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStructure  = errors.New("expected pointer to struct")
	ErrEmptyPrefix       = errors.New("env: prefix cannot be empty")
	ErrFieldCannotBeSet  = errors.New("field cannot be set")
	ErrCannotConvert     = errors.New("cannot convert value to field type")
	ErrUnsupportedFormat = errors.New("unsupported configuration file format")
)

func wrapStructureError(got any) error {
	return fmt.Errorf("%w, got %T", ErrInvalidStructure, got)
}

func wrapConvertError(key, fieldType string, err error) error {
	return fmt.Errorf("%w %s for %s: %w", ErrCannotConvert, fieldType, key, err)
}
