package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger *zap.Logger

type Log struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

func init() {
	defaultLogger = build(zap.NewAtomicLevelAt(zap.InfoLevel), false, "")
}

func build(level zap.AtomicLevel, stack bool, path string) *zap.Logger {
	out := []string{"stdout"}
	if path != "" {
		out = append(out, path)
	}
	var zc = zap.Config{
		Level:             level,
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: !stack,
		Sampling:          nil,
		Encoding:          "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "name",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
		OutputPaths:      out,
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := zc.Build()
	if err != nil {
		panic(fmt.Sprintf("[LOGGER] ERROR: %v\n", err))
	}
	return l
}

func UpdateLogger(l *Log) {
	defaultLogger.Sync()

	var (
		logLevel zap.AtomicLevel
		stack    bool
	)
	switch l.Level {
	case "debug":
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
		stack = true
	case "info":
		logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		logLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		logLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		logLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	defaultLogger = build(logLevel, stack, l.Path)
}

func CloseLogger() {
	defaultLogger.Sync()
}
func Error(s string, f ...zap.Field) {
	defaultLogger.Error(s, f...)
}
func Warn(s string, f ...zap.Field) {
	defaultLogger.Warn(s, f...)
}
func Info(s string, f ...zap.Field) {
	defaultLogger.Info(s, f...)
}
func Debug(s string, f ...zap.Field) {
	defaultLogger.Debug(s, f...)
}
func Panic(s string, f ...zap.Field) {
	defaultLogger.Panic(s, f...)
}
func Fatal(s string, f ...zap.Field) {
	defaultLogger.Fatal(s, f...)
}
