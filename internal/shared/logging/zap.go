package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process-wide zap backend.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

var (
	baseMu sync.RWMutex
	base   *zap.Logger
)

// Setup builds the zap backend used by NewComponentLogger and installs it as
// the process default. It returns the underlying logger so callers can Sync it.
func Setup(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(opts.Level)))
	if err != nil || strings.TrimSpace(opts.Level) == "" {
		level = zapcore.InfoLevel
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	SetBase(logger)
	return logger, nil
}

// SetBase installs logger as the backend for subsequently created component loggers.
func SetBase(logger *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = logger
}

func currentBase() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	if base == nil {
		return zap.NewNop()
	}
	return base
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return FromZap(currentBase().With(zap.String("component", component)))
}

// FromZap adapts a zap logger to the Logger interface.
func FromZap(logger *zap.Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return zapLogger{sugar: logger.Sugar()}
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapLogger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l zapLogger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l zapLogger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l zapLogger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }
