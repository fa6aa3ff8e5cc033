package asyncerr

import (
	"context"
	"sync"
	"time"
)

// DefaultCapacity is the per-consumer backlog limit.
const DefaultCapacity = 256

// Queue is a bounded FIFO of records with blocking, cancellable reads.
// A queue starts disabled; enqueues on a disabled queue are discarded.
type Queue struct {
	mu       sync.Mutex
	enabled  bool
	alloc    Allocator
	buf      []*Entry
	head     int
	count    int
	waiters  []chan struct{}
	dropped  uint64
	accepted uint64
}

// NewQueue returns a disabled queue holding up to capacity records. A nil
// alloc gives the queue a private pool sized to its capacity.
func NewQueue(capacity int, alloc Allocator) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if alloc == nil {
		alloc = NewPool(capacity)
	}
	return &Queue{
		alloc: alloc,
		buf:   make([]*Entry, capacity),
	}
}

// Capacity returns the backlog limit.
func (q *Queue) Capacity() int {
	return len(q.buf)
}

// Enable makes the queue accept records. Enabling an enabled queue is a no-op.
func (q *Queue) Enable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enabled {
		return
	}
	q.enabled = true
	q.head = 0
	q.count = 0
}

// Enabled reports whether the queue accepts records.
func (q *Queue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Enqueue appends rec and wakes one waiting reader. It never blocks: a full
// queue or an exhausted allocator drops the new record.
func (q *Queue) Enqueue(rec Record) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.enabled {
		return OutcomeDisabled
	}
	if q.count == len(q.buf) {
		q.dropped++
		return OutcomeDroppedFull
	}
	e, ok := q.alloc.TryAlloc()
	if !ok {
		q.dropped++
		return OutcomeDroppedNoMemory
	}
	e.Record = rec
	q.buf[(q.head+q.count)%len(q.buf)] = e
	q.count++
	q.accepted++
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(w)
	}
	return OutcomeDelivered
}

// Dequeue pops the oldest record. When the queue is empty it waits until a
// record arrives (nil), the timeout expires (ErrTimeout), the queue is
// disabled (ErrTerminated) or ctx is done (ErrInterrupted). A negative
// timeout waits forever; zero does not wait.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if !q.enabled {
			q.mu.Unlock()
			return Record{}, ErrTerminated
		}
		if q.count > 0 {
			rec := q.pop()
			q.mu.Unlock()
			return rec, nil
		}
		if timeout == 0 {
			q.mu.Unlock()
			return Record{}, ErrTimeout
		}
		w := make(chan struct{})
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case <-w:
		case <-expired:
			return q.abandon(w, ErrTimeout)
		case <-ctx.Done():
			return q.abandon(w, ErrInterrupted)
		}
	}
}

// abandon withdraws waiter w and settles the wait. Teardown and data that
// raced with the wakeup take precedence over cause.
func (q *Queue) abandon(w chan struct{}, cause error) (Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
	if !q.enabled {
		return Record{}, ErrTerminated
	}
	if q.count > 0 {
		return q.pop(), nil
	}
	return Record{}, cause
}

func (q *Queue) pop() Record {
	e := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	rec := e.Record
	q.alloc.Free(e)
	return rec
}

// Disable stops the queue, releases every queued record and wakes every
// waiting reader with ErrTerminated. Disabling twice is safe.
func (q *Queue) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.enabled {
		return
	}
	q.enabled = false
	for q.count > 0 {
		q.pop()
	}
	q.head = 0
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Len      int
	Accepted uint64
	Dropped  uint64
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Len: q.count, Accepted: q.accepted, Dropped: q.dropped}
}
