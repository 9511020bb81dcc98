package log

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogFilePath = "LOG_FILE_PATH"
	envLogFormat   = "LOG_FORMAT"
	envLogLevel    = "LOG_LEVEL"
	logFormatJSON  = "json"
)

var (
	mu     sync.RWMutex
	global = newLoggerFromEnv()
)

func newLoggerFromEnv() *zap.SugaredLogger {
	logger, err := build(
		strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat))),
		strings.ToLower(strings.TrimSpace(os.Getenv(envLogLevel))),
		strings.TrimSpace(os.Getenv(envLogFilePath)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger build error: %v\n", err)
		return zap.NewNop().Sugar()
	}
	return logger
}

func build(format, level, filePath string) (*zap.SugaredLogger, error) {
	var config zap.Config
	if format == logFormatJSON {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("parse %s: %w", envLogLevel, err)
		}
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	config.OutputPaths = []string{"stdout"}
	if filePath != "" {
		config.OutputPaths = append(config.OutputPaths, filePath)
	}

	logger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("zap.Build() failed: %w", err)
	}
	return logger.Sugar(), nil
}

// ConfigureFromEnv rebuilds the global logger from LOG_* after the
// environment has been loaded.
func ConfigureFromEnv() {
	SetLogger(newLoggerFromEnv())
}

// SetLogger replaces the process logger; tests use it to silence or capture output.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	current().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Errorf(format, args...)
}

func Sync() {
	_ = current().Sync()
}
