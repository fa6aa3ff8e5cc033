package asyncerr

import (
	"errors"
	"sync"
)

// Dispatcher routes records to consumers by PASID. Consumers are scanned in
// registration order and the first match receives the record.
type Dispatcher struct {
	mu        sync.Mutex
	consumers []*Consumer
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends c to the dispatch list.
func (d *Dispatcher) Register(c *Consumer) error {
	if c == nil {
		return errors.New("asyncerr: nil consumer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.consumers {
		if other == c {
			return ErrAlreadyRegistered
		}
	}
	d.consumers = append(d.consumers, c)
	return nil
}

// Unregister removes c from the dispatch list. It reports whether c was
// registered.
func (d *Dispatcher) Unregister(c *Consumer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, other := range d.consumers {
		if other == c {
			copy(d.consumers[i:], d.consumers[i+1:])
			d.consumers[len(d.consumers)-1] = nil
			d.consumers = d.consumers[:len(d.consumers)-1]
			return true
		}
	}
	return false
}

// Len returns the number of registered consumers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.consumers)
}

// Dispatch delivers rec to the first consumer registered for pasid. The
// queue lock is taken while the dispatch lock is held, so a consumer cannot
// be torn down mid-delivery.
func (d *Dispatcher) Dispatch(pasid uint32, rec Record) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.consumers {
		if c.PASID == pasid {
			return c.queue.Enqueue(rec)
		}
	}
	return OutcomeUnrouted
}

// Attach enables the consumer queue and registers it.
func (d *Dispatcher) Attach(c *Consumer) error {
	if c == nil {
		return errors.New("asyncerr: nil consumer")
	}
	c.queue.Enable()
	if err := d.Register(c); err != nil {
		return err
	}
	return nil
}

// Detach tears c down: it leaves the dispatch list first, then its queue is
// disabled, drained and every blocked reader is released with ErrTerminated.
// Detaching twice is safe.
func (d *Dispatcher) Detach(c *Consumer) {
	if c == nil {
		return
	}
	d.Unregister(c)
	c.queue.Disable()
}
