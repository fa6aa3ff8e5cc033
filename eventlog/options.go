package eventlog

import (
	"errors"
	"time"
)

const (
	// DefaultTable is the history table name.
	DefaultTable = "fabric_errd_history_v0_1_0"

	minPurgeInterval = time.Second
)

type Op struct {
	table         string
	retention     time.Duration
	purgeInterval time.Duration
	readOnly      bool
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	if op.table == "" {
		op.table = DefaultTable
	}
	if op.retention < 0 {
		return errors.New("eventlog: negative retention")
	}
	// check more often than the retention period so restarts do not
	// leave stale rows behind for long
	if op.purgeInterval == 0 {
		op.purgeInterval = op.retention / 5
	}
	if op.purgeInterval < minPurgeInterval {
		op.purgeInterval = minPurgeInterval
	}
	return nil
}

// WithTable overrides the table name.
func WithTable(name string) OpOption {
	return func(op *Op) {
		op.table = name
	}
}

// WithRetention enables the background purge of events older than d.
// Zero keeps every event.
func WithRetention(d time.Duration) OpOption {
	return func(op *Op) {
		op.retention = d
	}
}

func WithPurgeInterval(d time.Duration) OpOption {
	return func(op *Op) {
		op.purgeInterval = d
	}
}

// WithReadOnly opens the store for queries only; Insert fails.
func WithReadOnly(b bool) OpOption {
	return func(op *Op) {
		op.readOnly = b
	}
}
