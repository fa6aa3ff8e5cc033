package csr

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOffsetConflict indicates that a register is already part of another error block.
var ErrOffsetConflict = errors.New("csr: register offset already mapped")

// WriteObserver is invoked after every register write performed through a Sim.
type WriteObserver func(off Offset, val uint64)

// Sim is an in-memory register file. It models the write-1-to-clear status
// registers and force registers of the hardware error blocks so the error
// core can be exercised without a device.
type Sim struct {
	mu       sync.Mutex
	regs     map[Offset]uint64
	clearTo  map[Offset]Offset
	forceTo  map[Offset]Offset
	latched  map[Offset]uint64
	reads    map[Offset]uint64
	writes   map[Offset]uint64
	observer WriteObserver
}

var _ Accessor = (*Sim)(nil)

// NewSim returns an empty register file; unmapped registers read as zero.
func NewSim() *Sim {
	return &Sim{
		regs:    make(map[Offset]uint64),
		clearTo: make(map[Offset]Offset),
		forceTo: make(map[Offset]Offset),
		latched: make(map[Offset]uint64),
		reads:   make(map[Offset]uint64),
		writes:  make(map[Offset]uint64),
	}
}

// MapErrorBlock declares that writes to clear reset bits of status and writes
// to force set them.
func (s *Sim) MapErrorBlock(status, clear, force Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clearTo[clear]; ok {
		return fmt.Errorf("%w: clear %s", ErrOffsetConflict, clear)
	}
	if _, ok := s.forceTo[force]; ok {
		return fmt.Errorf("%w: force %s", ErrOffsetConflict, force)
	}
	s.clearTo[clear] = status
	s.forceTo[force] = status
	return nil
}

// Latch makes bits of a status register re-assert after every clear, the way
// a stuck or miswired fault source behaves.
func (s *Sim) Latch(status Offset, bits uint64) {
	s.mu.Lock()
	s.latched[status] |= bits
	s.regs[status] |= bits
	s.mu.Unlock()
}

// Unlatch releases bits previously latched. They stay set until cleared.
func (s *Sim) Unlatch(status Offset, bits uint64) {
	s.mu.Lock()
	s.latched[status] &^= bits
	s.mu.Unlock()
}

// SetObserver installs a callback run after every write. Pass nil to remove it.
func (s *Sim) SetObserver(fn WriteObserver) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Read implements Accessor.
func (s *Sim) Read(off Offset) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[off]++
	return s.regs[off]
}

// Write implements Accessor.
func (s *Sim) Write(off Offset, val uint64) {
	s.mu.Lock()
	s.writes[off]++
	switch {
	case s.isClear(off):
		status := s.clearTo[off]
		s.regs[status] &^= val
		s.regs[status] |= s.latched[status]
	case s.isForce(off):
		s.regs[s.forceTo[off]] |= val
	default:
		s.regs[off] = val
	}
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(off, val)
	}
}

// Set stores a raw value without any clear/force side effects.
func (s *Sim) Set(off Offset, val uint64) {
	s.mu.Lock()
	s.regs[off] = val
	s.mu.Unlock()
}

// Get returns a raw value without counting it as a read.
func (s *Sim) Get(off Offset) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[off]
}

// Reads reports how many times off was read through the Accessor interface.
func (s *Sim) Reads(off Offset) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[off]
}

// Writes reports how many times off was written through the Accessor interface.
func (s *Sim) Writes(off Offset) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[off]
}

func (s *Sim) isClear(off Offset) bool {
	_, ok := s.clearTo[off]
	return ok
}

func (s *Sim) isForce(off Offset) bool {
	_, ok := s.forceTo[off]
	return ok
}
