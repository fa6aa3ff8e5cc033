package errdomain

import (
	"errors"
	"testing"
)

func TestClassifyAssignsEverySlot(t *testing.T) {
	reg, err := ClassifyDefault(false)
	if err != nil {
		t.Fatalf("ClassifyDefault: %v", err)
	}
	for _, d := range reg.Domains() {
		for _, g := range d.Groups {
			for i, s := range g.Slots {
				if s.Action == ActionNone {
					t.Fatalf("%s/%s bit %d has no action", d.Name, g.Name, i)
				}
				if s.Unused() && s.Action != ActionHardwareBug {
					t.Fatalf("%s bit %d is unused but classified %s", g.Name, i, s.Action)
				}
			}
		}
	}
}

func TestClassifyCategoryActions(t *testing.T) {
	reg, err := Classify(MustDefault(), ClassifyOptions{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for _, d := range reg.Domains() {
		for _, g := range d.Groups {
			for _, s := range g.Slots {
				if s.Unused() {
					continue
				}
				if want := ActionForCategory(s.Category, false); s.Action != want {
					t.Fatalf("%s.%s: got %s want %s", g.Name, s.Name, s.Action, want)
				}
			}
		}
	}

	s, _ := reg.Slot(GroupFPC, 13)
	if s.Action != ActionUnimplemented {
		t.Fatalf("uncategorized slot without strict: %s", s.Action)
	}
}

func TestClassifyStrictUncategorized(t *testing.T) {
	reg, err := Classify(MustDefault(), ClassifyOptions{Strict: true})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	s, _ := reg.Slot(GroupFPC, 19)
	if s.Action != ActionStrictUncategorized {
		t.Fatalf("expected strict action, got %s", s.Action)
	}
}

func TestClassifyDefaultOverridesWin(t *testing.T) {
	reg, err := ClassifyDefault(true)
	if err != nil {
		t.Fatalf("ClassifyDefault: %v", err)
	}
	want := map[int]ActionKind{13: ActionFPCUncorrectable, 19: ActionFPCLinkDown, 54: ActionFPCFMConfig, 55: ActionFPCRcvPort}
	for bit, action := range want {
		s, _ := reg.Slot(GroupFPC, bit)
		if s.Action != action {
			t.Fatalf("FPC bit %d: got %s want %s", bit, s.Action, action)
		}
	}
	if s, _ := reg.Slot(GroupAT, 7); s.Action != ActionPASIDDispatch {
		t.Fatalf("pgr_rsp_err: got %s", s.Action)
	}
	for bit := PMONFirstOverflowBit; bit < PMONFirstOverflowBit+PMONOverflowGroups; bit++ {
		if s, _ := reg.Slot(GroupPMON, bit); s.Action != ActionPMONOverflow {
			t.Fatalf("PMON bit %d: got %s", bit, s.Action)
		}
	}
	if s, _ := reg.Slot(GroupPMON, 0); s.Action != ActionDeviceFatal {
		t.Fatalf("PMON parity: got %s", s.Action)
	}
}

func TestClassifyOverrideBeatsReserved(t *testing.T) {
	reg, err := Classify(MustDefault(), ClassifyOptions{Overrides: []Override{
		{Group: GroupPMON, Bit: 63, Action: ActionLogInfo},
	}})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if s, _ := reg.Slot(GroupPMON, 63); s.Action != ActionLogInfo {
		t.Fatalf("override lost to reserved classification: %s", s.Action)
	}
}

func TestClassifyRejectsBadOverrides(t *testing.T) {
	base := MustDefault()
	cases := map[string]struct {
		o    Override
		want error
	}{
		"unknown group": {Override{Group: "NOPE", Bit: 1, Action: ActionLogInfo}, ErrUnknownGroup},
		"bit range":     {Override{Group: GroupAT, Bit: 64, Action: ActionLogInfo}, ErrUnknownSlot},
		"unknown name":  {Override{Group: GroupAT, Name: "missing", Action: ActionLogInfo}, ErrUnknownSlot},
		"no action":     {Override{Group: GroupAT, Bit: 1}, ErrUnknownAction},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Classify(base, ClassifyOptions{Overrides: []Override{tc.o}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestClassifyRejectsNilRegistry(t *testing.T) {
	out, err := Classify(nil, ClassifyOptions{})
	if !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("expected ErrInvalidTable, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected no registry, got %v", out)
	}
}

func TestClassifyLeavesInputUntouched(t *testing.T) {
	base := MustDefault()
	if _, err := Classify(base, ClassifyOptions{Overrides: DefaultOverrides()}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for _, d := range base.Domains() {
		for _, g := range d.Groups {
			for _, s := range g.Slots {
				if s.Action != ActionNone {
					t.Fatalf("input registry was mutated at %s.%s", g.Name, s.Name)
				}
			}
		}
	}
}

func TestParseActionKind(t *testing.T) {
	got, err := ParseActionKind("PASID_dispatch")
	if err != nil || got != ActionPASIDDispatch {
		t.Fatalf("unexpected parse: %s, %v", got, err)
	}
	if _, err := ParseActionKind("none"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("none must not parse, got %v", err)
	}
}
