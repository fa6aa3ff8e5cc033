package asyncerr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDispatchDeliversToRegisteredPASID(t *testing.T) {
	d := NewDispatcher()
	a := NewConsumer(100, 7)
	b := NewConsumer(200, 8)
	for _, c := range []*Consumer{a, b} {
		if err := d.Attach(c); err != nil {
			t.Fatalf("Attach: %v", err)
		}
	}

	rec := NewPageGroupRecord(7, ClientTXDMA, 0xdead000, AccessWrite)
	if out := d.Dispatch(7, rec); !out.Delivered() {
		t.Fatalf("unexpected outcome: %s", out)
	}
	got, err := a.Dequeue(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got != rec {
		t.Fatalf("unexpected record: %+v", got)
	}
	if _, err := a.Dequeue(context.Background(), 100, 0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected exactly one record, got %v", err)
	}
	if b.Queue().Len() != 0 {
		t.Fatalf("record leaked to another consumer")
	}
}

func TestDispatchUnroutedPASID(t *testing.T) {
	d := NewDispatcher()
	a := NewConsumer(100, 7)
	if err := d.Attach(a); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if out := d.Dispatch(9, Record{PASID: 9}); out != OutcomeUnrouted || out.Delivered() {
		t.Fatalf("expected OutcomeUnrouted, got %s", out)
	}
	if a.Queue().Len() != 0 {
		t.Fatalf("unexpected delivery")
	}
}

func TestDispatchFirstRegisteredWins(t *testing.T) {
	d := NewDispatcher()
	first := NewConsumer(1, 5)
	second := NewConsumer(2, 5)
	_ = d.Attach(first)
	_ = d.Attach(second)

	d.Dispatch(5, Record{PASID: 5})
	if first.Queue().Len() != 1 || second.Queue().Len() != 0 {
		t.Fatalf("expected single delivery to first registrant: %d/%d", first.Queue().Len(), second.Queue().Len())
	}

	d.Detach(first)
	d.Dispatch(5, Record{PASID: 5})
	if second.Queue().Len() != 1 {
		t.Fatalf("next registrant should receive after detach")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	d := NewDispatcher()
	c := NewConsumer(1, 1)
	if err := d.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register(c); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if !d.Unregister(c) || d.Unregister(c) {
		t.Fatalf("Unregister should succeed once")
	}
	if d.Len() != 0 {
		t.Fatalf("unexpected len %d", d.Len())
	}
}

func TestDetachReleasesBlockedReader(t *testing.T) {
	d := NewDispatcher()
	c := NewConsumer(100, 3, WithCapacity(4))
	if err := d.Attach(c); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := c.Dequeue(context.Background(), 100, -1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	d.Detach(c)
	select {
	case err := <-done:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("expected ErrTerminated, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("detach did not release reader")
	}

	d.Detach(c)
	if out := d.Dispatch(3, Record{PASID: 3}); out != OutcomeUnrouted {
		t.Fatalf("detached consumer still routed: %s", out)
	}
	if out := c.Queue().Enqueue(Record{}); out != OutcomeDisabled {
		t.Fatalf("detached queue accepted record: %s", out)
	}
}

func TestConsumerPermission(t *testing.T) {
	c := NewConsumer(100, 3)
	c.Queue().Enable()
	if _, err := c.Dequeue(context.Background(), 101, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for foreign caller, got %v", err)
	}
	orphan := NewConsumer(0, 3)
	orphan.Queue().Enable()
	if _, err := orphan.Dequeue(context.Background(), 0, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied without owner, got %v", err)
	}
	if _, err := c.Dequeue(context.Background(), 100, 0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("owner poll on empty queue: %v", err)
	}
}

func TestConsumerSharedAllocator(t *testing.T) {
	pool := NewPool(2)
	d := NewDispatcher()
	a := NewConsumer(1, 1, WithAllocator(pool))
	b := NewConsumer(2, 2, WithAllocator(pool))
	_ = d.Attach(a)
	_ = d.Attach(b)
	d.Dispatch(1, Record{PASID: 1})
	d.Dispatch(1, Record{PASID: 1})
	if out := d.Dispatch(2, Record{PASID: 2}); out != OutcomeDroppedNoMemory {
		t.Fatalf("expected OutcomeDroppedNoMemory, got %s", out)
	}
	if a.Queue().Capacity() != DefaultCapacity {
		t.Fatalf("unexpected default capacity %d", a.Queue().Capacity())
	}
}
