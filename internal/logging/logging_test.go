package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	t.Run("should honour the level", func(t *testing.T) {
		s, level, err := Init(Config{Level: "warn"})
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, zapcore.WarnLevel, level.Level())

		level.SetLevel(zapcore.DebugLevel)
		assert.True(t, s.Desugar().Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("should reject an unknown level", func(t *testing.T) {
		_, _, err := Init(Config{Level: "chatty"})
		assert.Error(t, err)
	})
}

func TestAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := New(zap.New(core).Sugar())

	a.Debug("Module starting", "module", "gps", "id", "m1")
	a.Info("Module started", "module", "gps")
	a.Warn("Module not stopped in time", "id", "m1")
	a.Named("admin").Error("Save failed", "error", errors.New("disk full"))

	entries := logs.All()
	require.Len(t, entries, 4)

	levels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		assert.Equal(t, levels[i], e.Level, e.Message)
	}
	assert.Equal(t, map[string]any{"module": "gps", "id": "m1"}, entries[0].ContextMap())
	assert.Equal(t, "admin", entries[3].LoggerName)
	assert.Equal(t, "disk full", entries[3].ContextMap()["error"])
}
