// Package cleardown drains the error groups of an interrupt line: it
// disables the line, reads and acknowledges every group until quiescent,
// fires the action of every set bit and masks bits that never stop firing.
package cleardown

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/rocketbitz/fabric-errd/errdomain"
	"github.com/rocketbitz/fabric-errd/internal/csr"
)

// Event is one fired fault bit.
type Event struct {
	Domain *errdomain.Domain
	Group  *errdomain.Group
	Bit    int
	Slot   errdomain.Slot
	// Status is the full status value read in the pass that fired the bit.
	Status uint64
}

// Handler is the action dispatch point. It runs with the line held and must
// not block.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// Result summarises one clear-down.
type Result struct {
	Iterations int
	Events     int
	// Masked holds the bits masked during this clear-down, by group.
	Masked map[string]uint64
}

// Engine runs clear-downs. At most one clear-down is in flight per line;
// distinct lines proceed concurrently.
type Engine struct {
	acc      csr.Accessor
	handler  Handler
	maxClear int
	logger   Logger
	observer Observer

	linesMu sync.Mutex
	lines   map[int]*sync.Mutex

	maskMu sync.RWMutex
	masks  map[string]uint64
}

// New returns an engine that acknowledges through acc and fires handler.
func New(acc csr.Accessor, handler Handler, opts ...OpOption) (*Engine, error) {
	if acc == nil {
		return nil, errors.New("cleardown: nil register accessor")
	}
	if handler == nil {
		return nil, errors.New("cleardown: nil handler")
	}
	op := &Op{}
	if err := op.ApplyOpts(opts); err != nil {
		return nil, err
	}
	return &Engine{
		acc:      acc,
		handler:  handler,
		maxClear: op.maxClearCount,
		logger:   op.logger,
		observer: op.observer,
		lines:    make(map[int]*sync.Mutex),
		masks:    make(map[string]uint64),
	}, nil
}

// MaxClearCount returns the configured drain bound.
func (e *Engine) MaxClearCount() int {
	return e.maxClear
}

func (e *Engine) line(irq int) *sync.Mutex {
	e.linesMu.Lock()
	defer e.linesMu.Unlock()
	mu, ok := e.lines[irq]
	if !ok {
		mu = &sync.Mutex{}
		e.lines[irq] = mu
	}
	return mu
}

// Masked returns the bits of group permanently masked as runaway.
func (e *Engine) Masked(group string) uint64 {
	e.maskMu.RLock()
	defer e.maskMu.RUnlock()
	return e.masks[group]
}

func (e *Engine) addMask(group string, bits uint64) uint64 {
	e.maskMu.Lock()
	defer e.maskMu.Unlock()
	e.masks[group] |= bits
	return e.masks[group]
}

// ClearDown services one triggered line. Masked bits are ignored on read
// so their actions never fire again.
func (e *Engine) ClearDown(d *errdomain.Domain) Result {
	mu := e.line(d.IRQ)
	mu.Lock()
	defer mu.Unlock()

	groups := d.Groups
	for gi := range groups {
		e.acc.Write(groups[gi].Enable, 0)
	}

	var res Result
	busy := make([]int, len(groups))
	last := make([]uint64, len(groups))

	// Every pass re-reads every group, so a bit raised in a quiet group
	// while another is still draining is serviced before re-enable.
	for iter := 0; iter < e.maxClear; iter++ {
		res.Iterations++
		quiet := true
		for gi := range groups {
			g := &groups[gi]
			status := e.acc.Read(g.Status) &^ e.Masked(g.Name)
			if status == 0 {
				continue
			}
			quiet = false
			e.acc.Write(g.Clear, status)
			busy[gi]++
			last[gi] = status
			for pending := status; pending != 0; pending &= pending - 1 {
				bit := bits.TrailingZeros64(pending)
				e.handler.HandleEvent(Event{
					Domain: d,
					Group:  g,
					Bit:    bit,
					Slot:   g.Slots[bit],
					Status: status,
				})
				res.Events++
			}
		}
		if quiet {
			break
		}
	}

	// A group busy on every pass never went quiet.
	for gi := range groups {
		if busy[gi] < e.maxClear {
			continue
		}
		g := &groups[gi]
		mask := e.addMask(g.Name, last[gi])
		if res.Masked == nil {
			res.Masked = make(map[string]uint64)
		}
		res.Masked[g.Name] = last[gi]
		if e.logger != nil {
			e.logger.Warnw("repeating error bits, masking",
				"domain", d.Name,
				"group", g.Name,
				"bits", fmt.Sprintf("%#x", last[gi]),
				"mask", fmt.Sprintf("%#x", mask),
			)
		}
		if e.observer != nil {
			e.observer.GroupMasked(d.Name, g.Name, last[gi])
		}
	}

	for gi := range groups {
		e.acc.Write(groups[gi].Enable, ^e.Masked(groups[gi].Name))
	}

	if e.observer != nil {
		e.observer.ClearDownCompleted(d.Name, res)
	}
	return res
}

// Reset puts every group of reg in its bring-up state: disabled, no
// first-host routing and all status bits cleared.
func (e *Engine) Reset(reg *errdomain.Registry) {
	for _, d := range reg.Domains() {
		mu := e.line(d.IRQ)
		mu.Lock()
		for _, g := range d.Groups {
			e.acc.Write(g.Enable, 0)
			e.acc.Write(g.FirstHost, 0)
			e.acc.Write(g.Clear, csr.AllBits)
		}
		mu.Unlock()
	}
}

// EnableAll enables every unmasked bit of every group of reg.
func (e *Engine) EnableAll(reg *errdomain.Registry) {
	for _, d := range reg.Domains() {
		mu := e.line(d.IRQ)
		mu.Lock()
		for _, g := range d.Groups {
			e.acc.Write(g.Enable, ^e.Masked(g.Name))
		}
		mu.Unlock()
	}
}
