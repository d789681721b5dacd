package sgmailer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from config. A disabled config yields a
// no-op logger.
func NewLogger(config LoggingConfig) (*zap.Logger, error) {
	if !config.Enabled {
		return zap.NewNop(), nil
	}

	var zcfg zap.Config
	switch strings.ToLower(strings.TrimSpace(config.Format)) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console", "text":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	default:
		return nil, NewConfigError("logging.format", "unsupported log format: "+config.Format)
	}

	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(config.Level))
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.Named("sgmailer"), nil
}

// parseLevel converts a level name to a zapcore.Level, defaulting to info.
func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
