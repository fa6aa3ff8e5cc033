package asyncerr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Owner identifies the process that opened a consumer. The zero Owner is
// unassigned and owns nothing.
type Owner uint64

// Consumer is the per-context endpoint of asynchronous errors: an address
// space identifier and the queue its faults land in.
type Consumer struct {
	ID    uuid.UUID
	Owner Owner
	PASID uint32

	queue *Queue
}

type Op struct {
	capacity int
	alloc    Allocator
}

type OpOption func(*Op)

func (op *Op) ApplyOpts(opts []OpOption) {
	for _, opt := range opts {
		opt(op)
	}
	if op.capacity <= 0 {
		op.capacity = DefaultCapacity
	}
}

// WithCapacity bounds the consumer backlog.
func WithCapacity(n int) OpOption {
	return func(op *Op) {
		op.capacity = n
	}
}

// WithAllocator makes the consumer draw queue nodes from a.
func WithAllocator(a Allocator) OpOption {
	return func(op *Op) {
		op.alloc = a
	}
}

// NewConsumer returns a consumer whose queue is disabled until attached to a
// Dispatcher.
func NewConsumer(owner Owner, pasid uint32, opts ...OpOption) *Consumer {
	op := &Op{}
	op.ApplyOpts(opts)
	return &Consumer{
		ID:    uuid.New(),
		Owner: owner,
		PASID: pasid,
		queue: NewQueue(op.capacity, op.alloc),
	}
}

// Queue exposes the consumer queue.
func (c *Consumer) Queue() *Queue {
	return c.queue
}

// Dequeue reads the next record on behalf of caller. See Queue.Dequeue for
// the wait semantics.
func (c *Consumer) Dequeue(ctx context.Context, caller Owner, timeout time.Duration) (Record, error) {
	if c == nil || c.Owner == 0 || caller != c.Owner {
		return Record{}, ErrPermissionDenied
	}
	return c.queue.Dequeue(ctx, timeout)
}

func (c *Consumer) String() string {
	return fmt.Sprintf("consumer %s pasid=%d owner=%d", c.ID, c.PASID, c.Owner)
}
