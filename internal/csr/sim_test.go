package csr

import (
	"errors"
	"testing"
)

func TestSimClearAndForce(t *testing.T) {
	s := NewSim()
	if err := s.MapErrorBlock(0x0, 0x8, 0x10); err != nil {
		t.Fatalf("MapErrorBlock: %v", err)
	}

	s.Write(0x10, 0b1011)
	if got := s.Read(0x0); got != 0b1011 {
		t.Fatalf("status after force: got %#b want %#b", got, 0b1011)
	}

	s.Write(0x8, 0b0011)
	if got := s.Read(0x0); got != 0b1000 {
		t.Fatalf("status after clear: got %#b want %#b", got, 0b1000)
	}
	if got := s.Reads(0x0); got != 2 {
		t.Fatalf("unexpected read count: %d", got)
	}
	if got := s.Writes(0x8); got != 1 {
		t.Fatalf("unexpected clear write count: %d", got)
	}
}

func TestSimLatchedBitsReassert(t *testing.T) {
	s := NewSim()
	if err := s.MapErrorBlock(0x100, 0x108, 0x110); err != nil {
		t.Fatalf("MapErrorBlock: %v", err)
	}
	s.Latch(0x100, 1<<4)
	s.Write(0x110, 1<<1)

	s.Write(0x108, AllBits)
	if got := s.Read(0x100); got != 1<<4 {
		t.Fatalf("latched bit should survive clear: got %#x", got)
	}

	s.Unlatch(0x100, 1<<4)
	s.Write(0x108, AllBits)
	if got := s.Read(0x100); got != 0 {
		t.Fatalf("unlatched bit should clear: got %#x", got)
	}
}

func TestSimMapConflict(t *testing.T) {
	s := NewSim()
	if err := s.MapErrorBlock(0x0, 0x8, 0x10); err != nil {
		t.Fatalf("MapErrorBlock: %v", err)
	}
	err := s.MapErrorBlock(0x20, 0x8, 0x30)
	if !errors.Is(err, ErrOffsetConflict) {
		t.Fatalf("expected ErrOffsetConflict, got %v", err)
	}
}

func TestSimObserver(t *testing.T) {
	s := NewSim()
	var seen []Offset
	s.SetObserver(func(off Offset, _ uint64) { seen = append(seen, off) })
	s.Write(0x40, 1)
	s.Write(0x48, 2)
	s.SetObserver(nil)
	s.Write(0x50, 3)
	if len(seen) != 2 || seen[0] != 0x40 || seen[1] != 0x48 {
		t.Fatalf("unexpected observed writes: %v", seen)
	}
	if got := s.Get(0x48); got != 2 {
		t.Fatalf("plain register should store value, got %d", got)
	}
}
