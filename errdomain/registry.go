// Package errdomain describes the fault bits of the device, grouped by
// register set and interrupt line, and classifies each bit into the action
// run when it fires.
package errdomain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rocketbitz/fabric-errd/internal/csr"
)

// SlotsPerGroup is the width of a status register.
const SlotsPerGroup = 64

// Register offsets of a group relative to its base.
const (
	statusOffset    csr.Offset = 0x0
	clearOffset     csr.Offset = 0x8
	forceOffset     csr.Offset = 0x10
	enableOffset    csr.Offset = 0x18
	firstHostOffset csr.Offset = 0x20
)

// Slot is one named fault bit.
type Slot struct {
	Bit      int
	Name     string
	Desc     string
	Category Category
	Reserved bool
	Action   ActionKind
}

// Unused reports whether the slot is a hole in the register that hardware
// should never set.
func (s Slot) Unused() bool {
	if s.Reserved {
		return true
	}
	d := strings.ToLower(strings.TrimSpace(s.Desc))
	return strings.HasPrefix(d, "unused") || d == "reserved" || d == "spare"
}

// Group is one register set: a status register, its write-1-to-clear and
// force companions, an enable mask and a first-host routing register.
type Group struct {
	Name      string
	Status    csr.Offset
	Clear     csr.Offset
	Force     csr.Offset
	Enable    csr.Offset
	FirstHost csr.Offset
	// Aux holds the named error info registers read by bespoke handlers.
	Aux   map[string]csr.Offset
	Slots [SlotsPerGroup]Slot
}

// NewGroup returns a group whose registers derive from base. Slots default
// to reserved.
func NewGroup(name string, base csr.Offset) Group {
	g := Group{
		Name:      name,
		Status:    base + statusOffset,
		Clear:     base + clearOffset,
		Force:     base + forceOffset,
		Enable:    base + enableOffset,
		FirstHost: base + firstHostOffset,
	}
	for i := range g.Slots {
		g.Slots[i] = Slot{Bit: i, Name: fmt.Sprintf("reserved_%d", i), Desc: "Unused", Reserved: true}
	}
	return g
}

// SlotByName returns the bit carrying name.
func (g *Group) SlotByName(name string) (*Slot, bool) {
	for i := range g.Slots {
		if g.Slots[i].Name == name {
			return &g.Slots[i], true
		}
	}
	return nil, false
}

// Domain is the set of groups serviced by one interrupt line.
type Domain struct {
	Name   string
	IRQ    int
	Groups []Group
}

type groupRef struct {
	domain int
	group  int
}

// Registry is the ordered, read-only collection of error domains. Values
// returned by its lookups must not be modified.
type Registry struct {
	domains []Domain
	byIRQ   map[int]int
	byGroup map[string]groupRef
}

// NewRegistry indexes and validates domains.
func NewRegistry(domains ...Domain) (*Registry, error) {
	r := &Registry{
		domains: domains,
		byIRQ:   make(map[int]int, len(domains)),
		byGroup: make(map[string]groupRef),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	for di := range r.domains {
		d := &r.domains[di]
		r.byIRQ[d.IRQ] = di
		for gi := range d.Groups {
			r.byGroup[d.Groups[gi].Name] = groupRef{domain: di, group: gi}
		}
	}
	return r, nil
}

// Validate checks the structure of the registry: every domain
// has at least one group, lines and group names are unique, and every slot
// sits at the index of its bit.
func (r *Registry) Validate() error {
	if len(r.domains) == 0 {
		return &RegistryError{Err: fmt.Errorf("%w: no domains", ErrInvalidTable)}
	}
	irqs := make(map[int]string, len(r.domains))
	groups := make(map[string]string)
	for _, d := range r.domains {
		if d.Name == "" {
			return &RegistryError{Err: fmt.Errorf("%w: domain on line %d has no name", ErrInvalidTable, d.IRQ)}
		}
		if other, dup := irqs[d.IRQ]; dup {
			return &RegistryError{Domain: d.Name, Err: fmt.Errorf("%w: line %d already used by %s", ErrInvalidTable, d.IRQ, other)}
		}
		irqs[d.IRQ] = d.Name
		if len(d.Groups) == 0 {
			return &RegistryError{Domain: d.Name, Err: fmt.Errorf("%w: no groups", ErrInvalidTable)}
		}
		for gi := range d.Groups {
			g := &d.Groups[gi]
			if g.Name == "" {
				return &RegistryError{Domain: d.Name, Err: fmt.Errorf("%w: group %d has no name", ErrInvalidTable, gi)}
			}
			if other, dup := groups[g.Name]; dup {
				return &RegistryError{Domain: d.Name, Group: g.Name, Err: fmt.Errorf("%w: group already declared by %s", ErrInvalidTable, other)}
			}
			groups[g.Name] = d.Name
			for i := range g.Slots {
				if g.Slots[i].Bit != i {
					return &RegistryError{Domain: d.Name, Group: g.Name, Err: fmt.Errorf("%w: slot %d declares bit %d", ErrInvalidTable, i, g.Slots[i].Bit)}
				}
			}
		}
	}
	return nil
}

// Domains returns the domains in table order.
func (r *Registry) Domains() []Domain {
	return r.domains
}

// Domain returns the domain serviced by irq.
func (r *Registry) Domain(irq int) (*Domain, bool) {
	i, ok := r.byIRQ[irq]
	if !ok {
		return nil, false
	}
	return &r.domains[i], true
}

// Group returns the group with the given name.
func (r *Registry) Group(name string) (*Group, bool) {
	ref, ok := r.byGroup[name]
	if !ok {
		return nil, false
	}
	return &r.domains[ref.domain].Groups[ref.group], true
}

// Slot returns bit of the named group.
func (r *Registry) Slot(group string, bit int) (Slot, error) {
	g, ok := r.Group(group)
	if !ok {
		return Slot{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if bit < 0 || bit >= SlotsPerGroup {
		return Slot{}, fmt.Errorf("%w: %s bit %d", ErrUnknownSlot, group, bit)
	}
	return g.Slots[bit], nil
}

// Lines returns the interrupt lines of the registry in ascending order.
func (r *Registry) Lines() []int {
	lines := make([]int, 0, len(r.domains))
	for _, d := range r.domains {
		lines = append(lines, d.IRQ)
	}
	sort.Ints(lines)
	return lines
}

// Count returns the number of slots across all groups.
func (r *Registry) Count() int {
	n := 0
	for _, d := range r.domains {
		n += len(d.Groups) * SlotsPerGroup
	}
	return n
}

func (r *Registry) clone() *Registry {
	domains := make([]Domain, len(r.domains))
	for di, d := range r.domains {
		groups := make([]Group, len(d.Groups))
		for gi, g := range d.Groups {
			if g.Aux != nil {
				aux := make(map[string]csr.Offset, len(g.Aux))
				for k, v := range g.Aux {
					aux[k] = v
				}
				g.Aux = aux
			}
			groups[gi] = g
		}
		d.Groups = groups
		domains[di] = d
	}
	byIRQ := make(map[int]int, len(r.byIRQ))
	for k, v := range r.byIRQ {
		byIRQ[k] = v
	}
	byGroup := make(map[string]groupRef, len(r.byGroup))
	for k, v := range r.byGroup {
		byGroup[k] = v
	}
	return &Registry{domains: domains, byIRQ: byIRQ, byGroup: byGroup}
}
