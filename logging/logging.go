package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide sugared logger. Initialize must run before use.
var Logger *zap.SugaredLogger

var currentLevel = LevelInfo

// Level covers the manifest log levels. zap has no trace or off, so the
// mapping to zap levels happens here and trace is gated locally.
type Level int8

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelOff, fmt.Errorf("unknown log level `%s`", s)
}

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	}
	return "off"
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	level, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	}
	return zapcore.FatalLevel + 1
}

// Enabled reports whether messages at level l pass the configured level.
func Enabled(l Level) bool {
	return l != LevelOff && l <= currentLevel
}

// Initialize builds the process logger at the given level. Safe to call
// again to change the level (tests do).
func Initialize(level Level) {
	currentLevel = level

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level.zapLevel()),
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	Logger = logger.Sugar()
}

// Release flushes buffered log entries.
func Release() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Logw emits msg with key-value pairs at the given level. Trace maps to
// the zap debug level but is gated on the configured lineup level.
func Logw(level Level, msg string, keysAndValues ...interface{}) {
	if Logger == nil || !Enabled(level) {
		return
	}
	switch level {
	case LevelError:
		Logger.Errorw(msg, keysAndValues...)
	case LevelWarn:
		Logger.Warnw(msg, keysAndValues...)
	case LevelInfo:
		Logger.Infow(msg, keysAndValues...)
	case LevelDebug, LevelTrace:
		Logger.Debugw(msg, keysAndValues...)
	}
}
