package sgmailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		logger, err := NewLogger(LoggingConfig{Enabled: false, Level: "debug"})
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		logger, err := NewLogger(LoggingConfig{Enabled: true, Level: "warn", Format: "json"})
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("console", func(t *testing.T) {
		t.Parallel()

		logger, err := NewLogger(LoggingConfig{Enabled: true, Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		_, err := NewLogger(LoggingConfig{Enabled: true, Format: "xml"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" DEBUG ": zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
