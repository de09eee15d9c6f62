package modhub

// Logger defines the interface for hub logging.
// modhub uses structured logging with key-value pairs so that registry
// and module output stays consistent and parseable.
//
// Every registry operation (module loading, state transitions, shutdown
// progress, failed async tasks) is logged through this interface, so the
// embedding program decides how hub logs appear.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// zap's SugaredLogger satisfies it through a thin adapter, see
// internal/logging.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal hub events like a module reaching STARTED.
	//
	// Example:
	//   logger.Info("Module started", "module", "gps-1", "id", id)
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for failed lifecycle tasks and failed persistence.
	//
	// Example:
	//   logger.Error("Cannot start module", "module", "gps-1", "error", err)
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Used for conditions that are unusual but don't stop the hub, such as
	// a module that did not stop before the shutdown deadline.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for transitional states and dispatcher activity.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }
