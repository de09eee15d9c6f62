package modhub

import (
	"errors"
	"fmt"
)

// Hub errors
var (
	// Error kinds surfaced by the registry
	ErrInstantiationFailure = errors.New("cannot instantiate module")
	ErrTransitionFailure    = errors.New("module lifecycle transition failed")
	ErrTimeout              = errors.New("timed out waiting for module state")
	ErrUnknownModule        = errors.New("unknown module")
	ErrShutdownRejected     = errors.New("registry was shut down")

	// Lifecycle errors
	ErrInvalidTransition    = errors.New("invalid module state transition")
	ErrUnknownState         = errors.New("unknown module state")
	ErrNotInitialized       = errors.New("module is not initialized")
	ErrMissingConfiguration = errors.New("module has no configuration")
	ErrMissingModuleID      = errors.New("module configuration has no id")
	ErrShutdownIncomplete   = errors.New("modules did not stop before the shutdown deadline")

	// Provider errors
	ErrUnknownModuleType         = errors.New("no provider registered for module type")
	ErrProviderAlreadyRegistered = errors.New("provider already registered for module type")
	ErrProviderTypeEmpty         = errors.New("provider type tag is empty")
	ErrNilFactory                = errors.New("provider factory is nil")

	// Collaborator errors
	ErrNoConfigRepository = errors.New("no config repository configured")
	ErrConfigNotFound     = errors.New("module configuration not found")
	ErrNoStateManager     = errors.New("no module data directory configured")
	ErrNilModule          = errors.New("factory returned a nil module")
	ErrInvalidOption      = errors.New("invalid hub option")
)

// Operation names used in ModuleError.
const (
	OpFind    = "find"
	OpLoad    = "load"
	OpInit    = "initialize"
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
	OpUpdate  = "update configuration of"
	OpUnload  = "unload"
	OpDestroy = "destroy"
	OpSave    = "save state of"
	OpRestore = "load state of"
)

// ModuleError names the module and the operation that failed. It unwraps to
// the error kind and to the root cause, so both errors.Is(err, ErrTimeout)
// and errors.Is(err, rootCause) work.
type ModuleError struct {
	Op         string
	ModuleID   string
	ModuleName string
	Err        error
}

func (e *ModuleError) Error() string {
	name := e.ModuleName
	if name == "" {
		name = e.ModuleID
	}
	if e.ModuleID != "" && e.ModuleID != name {
		name = fmt.Sprintf("%s (%s)", name, e.ModuleID)
	}
	return fmt.Sprintf("cannot %s module %s: %v", e.Op, name, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

func moduleError(op string, m Module, err error) *ModuleError {
	return &ModuleError{Op: op, ModuleID: m.ID(), ModuleName: m.Name(), Err: err}
}

func idError(op, id string, err error) *ModuleError {
	return &ModuleError{Op: op, ModuleID: id, Err: err}
}

// kindError joins an error kind with its root cause.
func kindError(kind, cause error) error {
	switch {
	case cause == nil:
		return kind
	case errors.Is(cause, kind):
		return cause
	default:
		return fmt.Errorf("%w: %w", kind, cause)
	}
}
