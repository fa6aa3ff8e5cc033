package cleardown

import "errors"

// DefaultMaxClearCount bounds how many drain passes a group gets before its
// bits are considered runaway and masked.
const DefaultMaxClearCount = 20

// Logger receives the diagnostics of the engine. *zap.SugaredLogger
// satisfies it.
type Logger interface {
	Warnw(msg string, keyvals ...any)
}

// Observer is told about completed drains and masked groups.
type Observer interface {
	ClearDownCompleted(domain string, res Result)
	GroupMasked(domain, group string, bits uint64)
}

type Op struct {
	maxClearCount int
	logger        Logger
	observer      Observer
}

type OpOption func(*Op)

func (op *Op) ApplyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	if op.maxClearCount == 0 {
		op.maxClearCount = DefaultMaxClearCount
	}
	if op.maxClearCount < 0 {
		return errors.New("max clear count must be positive")
	}
	return nil
}

// WithMaxClearCount sets the number of drain passes before masking.
func WithMaxClearCount(n int) OpOption {
	return func(op *Op) {
		op.maxClearCount = n
	}
}

func WithLogger(l Logger) OpOption {
	return func(op *Op) {
		op.logger = l
	}
}

func WithObserver(o Observer) OpOption {
	return func(op *Op) {
		op.observer = o
	}
}
