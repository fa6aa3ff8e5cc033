// Package csr abstracts control/status register access for the error core.
package csr

import "fmt"

// Offset is the byte offset of a 64-bit register inside the device BAR.
type Offset uint64

func (o Offset) String() string {
	return fmt.Sprintf("0x%06x", uint64(o))
}

// Accessor performs MMIO register reads and writes. Implementations must be
// atomic per register and must never block, since they are used from the
// interrupt path.
type Accessor interface {
	Read(off Offset) uint64
	Write(off Offset, val uint64)
}

// AllBits is the value written to clear or enable every bit of a register.
const AllBits = ^uint64(0)
