package device

import (
	"errors"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/cleardown"
	"github.com/rocketbitz/fabric-errd/errdomain"
)

const (
	// DefaultName labels logs and metrics when Config.Name is empty.
	DefaultName = "hfi2_0"
	// DefaultHistoryBuffer is the number of history events held while the
	// sink catches up.
	DefaultHistoryBuffer = 1024
)

var (
	// ErrClosed indicates the device has already been closed.
	ErrClosed = errors.New("fabric-errd device: closed")
	// ErrUnknownLine indicates an interrupt arrived on a line with no error domain.
	ErrUnknownLine = errors.New("fabric-errd device: unknown interrupt line")
)

// Config controls Open behaviour for a Device.
type Config struct {
	Name string
	// Registry is the unclassified error table. Nil selects the embedded
	// chip table.
	Registry *errdomain.Registry
	// Overrides replace category actions. Nil selects
	// errdomain.DefaultOverrides; an empty slice applies none.
	Overrides           []errdomain.Override
	StrictUncategorized bool
	MaxClearCount       int
	QueueCapacity       int
	// SharedPoolSize, when positive, makes every consumer draw queue nodes
	// from one pool of that size.
	SharedPoolSize int
	// Emulation leaves the error lines disabled after reset.
	Emulation bool

	Logger           Logger
	StructuredLogger StructuredLogger
	LeveledLogger    LeveledLogger
	Tracer           Tracer
	Metrics          MetricHook

	DeviceFatalHook FatalHook
	NodeFatalHook   FatalHook

	History       HistorySink
	HistoryBuffer int
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Registry == nil {
		reg, err := errdomain.Default()
		if err != nil {
			return cfg, err
		}
		cfg.Registry = reg
	}
	if cfg.Overrides == nil {
		cfg.Overrides = errdomain.DefaultOverrides()
	}
	if cfg.MaxClearCount == 0 {
		cfg.MaxClearCount = cleardown.DefaultMaxClearCount
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = asyncerr.DefaultCapacity
	}
	if cfg.HistoryBuffer == 0 {
		cfg.HistoryBuffer = DefaultHistoryBuffer
	}
	if cfg.MaxClearCount < 0 || cfg.QueueCapacity < 0 || cfg.SharedPoolSize < 0 || cfg.HistoryBuffer < 0 {
		return cfg, errors.New("fabric-errd device: negative limit in config")
	}
	if cfg.LeveledLogger == nil {
		if l, ok := cfg.StructuredLogger.(LeveledLogger); ok {
			cfg.LeveledLogger = l
		}
	}
	return cfg, nil
}
