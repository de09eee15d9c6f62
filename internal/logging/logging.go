// Package logging builds the zap logger of the daemon and adapts it to
// modhub.Logger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/GoCodeAlone/modhub"
)

// Config selects the verbosity and flavour of the daemon logger.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string

	// Development enables caller annotations and stack traces on warnings.
	Development bool
}

// Init builds a console logger writing to stderr. Levels are coloured only
// when stderr is a terminal. The returned level can be changed at runtime.
func Init(cfg Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          "console",
		EncoderConfig:     encoderConfig,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Sugar(), config.Level, nil
}

// Adapter implements modhub.Logger on top of a SugaredLogger. Key/value
// arguments become structured zap fields.
type Adapter struct {
	s *zap.SugaredLogger
}

var _ modhub.Logger = (*Adapter)(nil)

// New wraps s. The adapter skips itself when zap reports callers.
func New(s *zap.SugaredLogger) *Adapter {
	return &Adapter{s: s.WithOptions(zap.AddCallerSkip(1))}
}

func (a *Adapter) Info(msg string, args ...any)  { a.s.Infow(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.s.Errorw(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.s.Warnw(msg, args...) }
func (a *Adapter) Debug(msg string, args ...any) { a.s.Debugw(msg, args...) }

// Named returns an adapter whose entries carry the given logger name, e.g.
// "admin" or "journal".
func (a *Adapter) Named(name string) *Adapter {
	return &Adapter{s: a.s.Named(name)}
}

// Sync flushes buffered entries.
func (a *Adapter) Sync() error {
	return a.s.Sync()
}
