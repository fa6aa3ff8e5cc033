// Package asyncerr routes transaction faults tagged with a PASID to the
// consumer that owns the address space and queues them until read.
package asyncerr

import "fmt"

// RecordType tags the payload of a Record.
type RecordType uint32

const (
	// RecordPageGroupRequest is a failed page group request of the address
	// translation unit.
	RecordPageGroupRequest RecordType = 1
)

func (t RecordType) String() string {
	switch t {
	case RecordPageGroupRequest:
		return "pgr"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Client identifies the hardware requestor that took the fault.
type Client uint8

const (
	ClientTXDMA Client = 1
	ClientTXOTR Client = 2
	ClientRXDMA Client = 4
)

func (c Client) String() string {
	switch c {
	case ClientTXDMA:
		return "TXDMA"
	case ClientTXOTR:
		return "TXOTR"
	case ClientRXDMA:
		return "RXDMA"
	default:
		return "Unknown"
	}
}

// Access holds the access flags of a faulting request, encoded at their
// bit positions in Record.Info.
type Access uint64

const (
	AccessRead       Access = 1 << 1
	AccessWrite      Access = 1 << 2
	AccessPrivileged Access = 1 << 3

	accessMask = AccessRead | AccessWrite | AccessPrivileged
)

func (a Access) String() string {
	b := []byte("---")
	if a&AccessRead != 0 {
		b[0] = 'r'
	}
	if a&AccessWrite != 0 {
		b[1] = 'w'
	}
	if a&AccessPrivileged != 0 {
		b[2] = 'p'
	}
	return string(b)
}

// VirtAddrMask selects the page address in Record.Info.
const VirtAddrMask uint64 = 0xfffffffffffff000

// Record is one asynchronous error delivered to a consumer.
type Record struct {
	Type   RecordType
	PASID  uint32
	Client Client
	// Info is the raw fault word: page address and access flags.
	Info uint64
}

// NewPageGroupRecord encodes a page group request fault.
func NewPageGroupRecord(pasid uint32, client Client, va uint64, access Access) Record {
	return Record{
		Type:   RecordPageGroupRequest,
		PASID:  pasid,
		Client: client,
		Info:   va&VirtAddrMask | uint64(access&accessMask),
	}
}

// VirtAddr returns the faulting page address.
func (r Record) VirtAddr() uint64 {
	return r.Info & VirtAddrMask
}

// Access returns the access flags of the faulting request.
func (r Record) Access() Access {
	return Access(r.Info) & accessMask
}

func (r Record) String() string {
	return fmt.Sprintf("%s pasid=%d client=%s va=%#x access=%s", r.Type, r.PASID, r.Client, r.VirtAddr(), r.Access())
}
