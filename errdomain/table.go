package errdomain

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/rocketbitz/fabric-errd/internal/csr"
)

//go:embed table.yaml
var defaultTable []byte

type tableFile struct {
	Domains []tableDomain `json:"domains"`
}

type tableDomain struct {
	Name   string       `json:"name"`
	IRQ    int          `json:"irq"`
	Groups []tableGroup `json:"groups"`
}

type tableGroup struct {
	Name  string            `json:"name"`
	Base  uint64            `json:"base"`
	Aux   map[string]uint64 `json:"aux,omitempty"`
	Slots []tableSlot       `json:"slots"`
}

type tableSlot struct {
	Bit      int    `json:"bit"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Desc     string `json:"desc,omitempty"`
	Reserved bool   `json:"reserved,omitempty"`
}

// Load parses a YAML error table. Bits a group does not list are reserved.
// The returned registry is unclassified.
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read error table: %w", err)
	}
	var tf tableFile
	if err := yaml.UnmarshalStrict(raw, &tf); err != nil {
		return nil, &RegistryError{Err: fmt.Errorf("%w: %v", ErrInvalidTable, err)}
	}

	domains := make([]Domain, 0, len(tf.Domains))
	for _, td := range tf.Domains {
		d := Domain{Name: td.Name, IRQ: td.IRQ, Groups: make([]Group, 0, len(td.Groups))}
		for _, tg := range td.Groups {
			g, err := buildGroup(tg)
			if err != nil {
				return nil, &RegistryError{Domain: td.Name, Group: tg.Name, Err: err}
			}
			d.Groups = append(d.Groups, g)
		}
		domains = append(domains, d)
	}
	return NewRegistry(domains...)
}

func buildGroup(tg tableGroup) (Group, error) {
	g := NewGroup(tg.Name, csr.Offset(tg.Base))
	if len(tg.Aux) > 0 {
		g.Aux = make(map[string]csr.Offset, len(tg.Aux))
		for name, off := range tg.Aux {
			g.Aux[name] = csr.Offset(off)
		}
	}
	var seen [SlotsPerGroup]bool
	for _, ts := range tg.Slots {
		if ts.Bit < 0 || ts.Bit >= SlotsPerGroup {
			return Group{}, fmt.Errorf("%w: bit %d out of range", ErrInvalidTable, ts.Bit)
		}
		if seen[ts.Bit] {
			return Group{}, fmt.Errorf("%w: bit %d declared twice", ErrInvalidTable, ts.Bit)
		}
		seen[ts.Bit] = true
		cat, err := ParseCategory(ts.Category)
		if err != nil {
			return Group{}, fmt.Errorf("bit %d: %w", ts.Bit, err)
		}
		s := Slot{Bit: ts.Bit, Name: ts.Name, Desc: ts.Desc, Category: cat, Reserved: ts.Reserved}
		if s.Name == "" {
			s.Name = fmt.Sprintf("bit_%d", ts.Bit)
		}
		s.Reserved = s.Unused()
		g.Slots[ts.Bit] = s
	}
	return g, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the unclassified registry of the embedded chip table.
// Callers get their own copy.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Load(bytes.NewReader(defaultTable))
	})
	if defaultErr != nil {
		return nil, defaultErr
	}
	return defaultReg.clone(), nil
}

// MustDefault is Default for callers that treat a broken embedded table as
// a programming error.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}
