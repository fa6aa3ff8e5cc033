package errdomain

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/rocketbitz/fabric-errd/internal/csr"
)

func TestDefaultRegistryShape(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if got := len(reg.Domains()); got != 20 {
		t.Fatalf("unexpected domain count: %d", got)
	}
	if got := reg.Count(); got != 1536 {
		t.Fatalf("unexpected slot count: %d", got)
	}
	lines := reg.Lines()
	if !sort.IntsAreSorted(lines) {
		t.Fatalf("lines not sorted: %v", lines)
	}
	if lines[0] != 258 || lines[len(lines)-1] != 278 {
		t.Fatalf("unexpected line range: %v", lines)
	}

	d, ok := reg.Domain(272)
	if !ok || d.Name != "at" {
		t.Fatalf("expected at domain on line 272, got %+v", d)
	}
	for irq, name := range map[int]string{261: "pcim", 265: "txdma", 268: "rxhp", 269: "rxdma", 277: "tp"} {
		if d, ok := reg.Domain(irq); !ok || d.Name != name {
			t.Fatalf("expected %s domain on line %d, got %+v", name, irq, d)
		}
	}
	if _, ok := reg.Domain(279); ok {
		t.Fatalf("oc block has no table and should not be registered")
	}
	if s, err := reg.Slot("RXDMA_ERR_STS_1", 8); err != nil || s.Name != "dq_read_err_0" || s.Category != CategoryUncategorized {
		t.Fatalf("unexpected rxdma slot: %+v %v", s, err)
	}
	if _, ok := reg.Domain(999); ok {
		t.Fatalf("unexpected domain for unknown line")
	}

	g, ok := reg.Group(GroupAT)
	if !ok {
		t.Fatalf("missing group %s", GroupAT)
	}
	if g.Status != 0x1a0000 || g.Clear != 0x1a0008 || g.Force != 0x1a0010 || g.Enable != 0x1a0018 || g.FirstHost != 0x1a0020 {
		t.Fatalf("unexpected derived offsets: %+v", g)
	}
	if g.Aux[AuxPASIDInfo] != 0x1a0080 || g.Aux[AuxPageInfo] != 0x1a0088 {
		t.Fatalf("unexpected aux registers: %v", g.Aux)
	}

	s, err := reg.Slot(GroupAT, 7)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if s.Name != "pgr_rsp_err" || s.Category != CategoryTransaction {
		t.Fatalf("unexpected pgr slot: %+v", s)
	}
	if _, err := reg.Slot("nope", 0); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
	if _, err := reg.Slot(GroupAT, 64); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestDefaultReturnsIndependentCopies(t *testing.T) {
	a := MustDefault()
	b := MustDefault()
	ga, _ := a.Group(GroupPMON)
	ga.Slots[0].Name = "changed"
	ga.Aux[AuxPMONOverflow] = 0
	gb, _ := b.Group(GroupPMON)
	if gb.Slots[0].Name != "pmon_cfg_parity" {
		t.Fatalf("slot change leaked across copies: %q", gb.Slots[0].Name)
	}
	if gb.Aux[AuxPMONOverflow] != 0x1e0080 {
		t.Fatalf("aux change leaked across copies: %v", gb.Aux)
	}
}

func TestLoadFillsMissingBitsAsReserved(t *testing.T) {
	reg, err := Load(strings.NewReader(`
domains:
- name: tiny
  irq: 7
  groups:
  - name: TINY
    base: 0x4000
    slots:
    - {bit: 2, name: two, category: info, desc: "bit two"}
    - {bit: 5, name: five, category: process}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g, _ := reg.Group("TINY")
	if g.Status != csr.Offset(0x4000) {
		t.Fatalf("unexpected status offset: %s", g.Status)
	}
	if !g.Slots[0].Reserved || !g.Slots[63].Reserved {
		t.Fatalf("unlisted bits should be reserved")
	}
	if g.Slots[2].Reserved || g.Slots[2].Category != CategoryInfo {
		t.Fatalf("unexpected bit 2: %+v", g.Slots[2])
	}
	if g.Slots[5].Category != CategoryProcess {
		t.Fatalf("unexpected bit 5: %+v", g.Slots[5])
	}
}

func TestLoadRejectsMalformedTables(t *testing.T) {
	cases := map[string]struct {
		table string
		want  error
	}{
		"duplicate bit": {
			table: `
domains:
- name: d
  irq: 1
  groups:
  - name: G
    base: 0x0
    slots:
    - {bit: 1, name: a, category: info}
    - {bit: 1, name: b, category: info}
`,
			want: ErrInvalidTable,
		},
		"bit out of range": {
			table: `
domains:
- name: d
  irq: 1
  groups:
  - name: G
    base: 0x0
    slots:
    - {bit: 64, name: a, category: info}
`,
			want: ErrInvalidTable,
		},
		"unknown category": {
			table: `
domains:
- name: d
  irq: 1
  groups:
  - name: G
    base: 0x0
    slots:
    - {bit: 0, name: a, category: catastrophic}
`,
			want: ErrUnknownCategory,
		},
		"domain without groups": {
			table: `
domains:
- name: d
  irq: 1
  groups: []
`,
			want: ErrInvalidTable,
		},
		"duplicate line": {
			table: `
domains:
- name: a
  irq: 1
  groups:
  - {name: A, base: 0x0, slots: []}
- name: b
  irq: 1
  groups:
  - {name: B, base: 0x100, slots: []}
`,
			want: ErrInvalidTable,
		},
		"duplicate group": {
			table: `
domains:
- name: a
  irq: 1
  groups:
  - {name: A, base: 0x0, slots: []}
- name: b
  irq: 2
  groups:
  - {name: A, base: 0x100, slots: []}
`,
			want: ErrInvalidTable,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.table))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var regErr *RegistryError
			if !errors.As(err, &regErr) {
				t.Fatalf("expected *RegistryError, got %T", err)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range []Category{CategoryOkay, CategoryInfo, CategoryCorrectable, CategoryTransaction,
		CategoryProcess, CategoryDeviceFatal, CategoryNodeFatal, CategoryHardwareBug, CategoryUncategorized} {
		got, err := ParseCategory(c.String())
		if err != nil || got != c {
			t.Fatalf("round trip of %s: got %s, %v", c, got, err)
		}
	}
	if got, err := ParseCategory(""); err != nil || got != CategoryUncategorized {
		t.Fatalf("empty category: got %s, %v", got, err)
	}
}
