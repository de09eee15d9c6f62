package modhub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleError(t *testing.T) {
	t.Run("should name the module and its id", func(t *testing.T) {
		err := &ModuleError{Op: OpStart, ModuleID: "42", ModuleName: "pump", Err: ErrNotInitialized}
		assert.Equal(t, "cannot start module pump (42): module is not initialized", err.Error())
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("should fall back to the id", func(t *testing.T) {
		err := idError(OpFind, "42", ErrUnknownModule)
		assert.Equal(t, "cannot find module 42: unknown module", err.Error())
	})

	t.Run("should be reachable with errors.As", func(t *testing.T) {
		var wrapped error = idError(OpDestroy, "x", ErrUnknownModule)
		var merr *ModuleError
		assert.True(t, errors.As(wrapped, &merr))
		assert.Equal(t, OpDestroy, merr.Op)
	})
}

func TestKindError(t *testing.T) {
	cause := errors.New("disk full")

	assert.Equal(t, ErrTransitionFailure, kindError(ErrTransitionFailure, nil))

	err := kindError(ErrTransitionFailure, cause)
	assert.ErrorIs(t, err, ErrTransitionFailure)
	assert.ErrorIs(t, err, cause)

	already := kindError(ErrTransitionFailure, err)
	assert.Same(t, err, already)
}
