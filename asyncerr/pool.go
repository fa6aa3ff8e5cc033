package asyncerr

// Entry is a queue node carrying one record.
type Entry struct {
	Record Record
}

// Allocator hands out queue nodes without blocking. TryAlloc reports false
// when no node is available.
type Allocator interface {
	TryAlloc() (*Entry, bool)
	Free(*Entry)
}

// Pool is a fixed set of preallocated entries.
type Pool struct {
	entries chan *Entry
}

var _ Allocator = (*Pool)(nil)

// NewPool preallocates n entries. A pool may be shared by several queues,
// which bounds their combined backlog.
func NewPool(n int) *Pool {
	if n < 0 {
		n = 0
	}
	p := &Pool{entries: make(chan *Entry, n)}
	for i := 0; i < n; i++ {
		p.entries <- &Entry{}
	}
	return p
}

// TryAlloc implements Allocator.
func (p *Pool) TryAlloc() (*Entry, bool) {
	if p == nil {
		return nil, false
	}
	select {
	case e := <-p.entries:
		return e, true
	default:
		return nil, false
	}
}

// Free implements Allocator. Entries beyond the pool size are dropped.
func (p *Pool) Free(e *Entry) {
	if p == nil || e == nil {
		return
	}
	*e = Entry{}
	select {
	case p.entries <- e:
	default:
	}
}

// Available returns the number of free entries.
func (p *Pool) Available() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Size returns the number of entries the pool was built with.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return cap(p.entries)
}
