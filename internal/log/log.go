// Package log provides the process logger for fabric-errd binaries.
package log

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 128
	logFileMaxBackups = 5
	logFileMaxAgeDays = 3
)

// Logger is the process logger. Replace it with SetLogger.
var Logger = NewLogger(mustBuild(zap.NewAtomicLevel()))

var nopLogger = zap.NewNop().Sugar()

func encoderConfig() zapcore.EncoderConfig {
	c := zap.NewProductionEncoderConfig()
	c.EncodeTime = zapcore.ISO8601TimeEncoder
	return c
}

func mustBuild(level zap.AtomicLevel) *zap.SugaredLogger {
	c := zap.NewProductionConfig()
	c.EncoderConfig = encoderConfig()
	c.Level = level
	l, err := c.Build()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// ParseLogLevel parses a zap level name; empty selects info.
func ParseLogLevel(logLevel string) (zap.AtomicLevel, error) {
	if logLevel == "" {
		return zap.NewAtomicLevel(), nil
	}
	return zap.ParseAtomicLevel(logLevel)
}

// CreateLogger logs JSON to stderr, or to a rotating logFile when set.
func CreateLogger(level zap.AtomicLevel, logFile string) *ErrdLogger {
	if logFile == "" {
		return NewLogger(mustBuild(level))
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, level)
	return NewLogger(zap.New(core).Sugar())
}

// ErrdLogger is a swappable sugared logger. A nil ErrdLogger discards.
type ErrdLogger struct {
	logger atomic.Pointer[zap.SugaredLogger]
}

// NewLogger wraps an existing sugared logger, e.g. one built on a test core.
func NewLogger(logger *zap.SugaredLogger) *ErrdLogger {
	l := &ErrdLogger{}
	l.set(logger)
	return l
}

func (l *ErrdLogger) get() *zap.SugaredLogger {
	if l == nil {
		return nopLogger
	}
	if logger := l.logger.Load(); logger != nil {
		return logger
	}
	return nopLogger
}

func (l *ErrdLogger) set(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = nopLogger
	}
	l.logger.Store(logger)
}

// SetLogger points the process logger at logger. Nil discards output.
func SetLogger(logger *ErrdLogger) {
	if logger == nil {
		Logger.set(nil)
		return
	}
	Logger.set(logger.get())
}

func (l *ErrdLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.get().Debugw(msg, keysAndValues...)
}

func (l *ErrdLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.get().Infow(msg, keysAndValues...)
}

func (l *ErrdLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.get().Warnw(msg, keysAndValues...)
}

// Errorw logs context canceled errors at warn level; they are expected on
// shutdown.
func (l *ErrdLogger) Errorw(msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if keysAndValues[i] != "error" {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok && strings.Contains(err.Error(), context.Canceled.Error()) {
			l.Warnw(msg, keysAndValues...)
			return
		}
	}
	l.get().Errorw(msg, keysAndValues...)
}

func (l *ErrdLogger) Sync() error {
	return l.get().Sync()
}
