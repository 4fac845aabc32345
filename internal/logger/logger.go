package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel = "LOG_LEVEL"
	EnvTimeFmt  = "LOG_TIME"
)

// New builds the process logger: JSON to stdout and, when enabled, to a
// rotated file. Environment variables win over the config section.
func New(cfg Config, devMode bool) (*zap.Logger, error) {
	rawLevel := cfg.Level
	if env := os.Getenv(EnvLogLevel); env != "" {
		rawLevel = env
	}
	level := zapcore.DebugLevel
	if rawLevel != "" {
		var err error
		if level, err = parseLevel(rawLevel); err != nil {
			return nil, err
		}
	}

	rawTime := cfg.TimeFormat
	if env := os.Getenv(EnvTimeFmt); env != "" {
		rawTime = env
	}
	var timeEncoder zapcore.TimeEncoder = zapcore.EpochTimeEncoder
	if rawTime != "" {
		var err error
		if timeEncoder, err = parseTimeEncoder(rawTime); err != nil {
			return nil, err
		}
	}

	zapCfg := zap.NewProductionEncoderConfig()
	if devMode {
		zapCfg = zap.NewDevelopmentEncoderConfig()
	}
	zapCfg.EncodeTime = timeEncoder
	encoder := zapcore.NewJSONEncoder(zapCfg)

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.EnableWriteToFile {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	return zap.New(core, zap.WithCaller(true)), nil
}

func parseLevel(raw string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		return level, fmt.Errorf("invalid log level (expected one of: debug, info, warn, error etc): %w", err)
	}
	return level, nil
}

func parseTimeEncoder(raw string) (zapcore.TimeEncoder, error) {
	var enc zapcore.TimeEncoder
	if err := enc.UnmarshalText([]byte(raw)); err != nil {
		return nil, fmt.Errorf("invalid time format (expected one of: epoch, iso8601, rfc3339 etc): %w", err)
	}
	return enc, nil
}
