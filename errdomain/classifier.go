package errdomain

import "fmt"

// Override replaces the category action of one slot. Name, when set, selects
// the slot by name and takes precedence over Bit.
type Override struct {
	Group  string
	Bit    int
	Name   string
	Action ActionKind
}

func (o Override) String() string {
	if o.Name != "" {
		return fmt.Sprintf("%s.%s=%s", o.Group, o.Name, o.Action)
	}
	return fmt.Sprintf("%s[%d]=%s", o.Group, o.Bit, o.Action)
}

// ClassifyOptions tunes Classify.
type ClassifyOptions struct {
	// Strict gives uncategorized slots the strict diagnostic action instead
	// of the unimplemented one.
	Strict    bool
	Overrides []Override
}

// Classify assigns an action to every slot of reg and returns the classified
// copy. Unused slots become hardware bugs, the rest take their category
// action, then overrides are applied and always win. reg is not modified.
func Classify(reg *Registry, opts ClassifyOptions) (*Registry, error) {
	if reg == nil {
		return nil, &RegistryError{Err: fmt.Errorf("%w: nil registry", ErrInvalidTable)}
	}
	out := reg.clone()
	for di := range out.domains {
		groups := out.domains[di].Groups
		for gi := range groups {
			slots := &groups[gi].Slots
			for i := range slots {
				s := &slots[i]
				if s.Unused() {
					s.Action = ActionHardwareBug
					continue
				}
				s.Action = ActionForCategory(s.Category, opts.Strict)
			}
		}
	}
	for _, o := range opts.Overrides {
		if o.Action == ActionNone {
			return nil, fmt.Errorf("override %s: %w", o, ErrUnknownAction)
		}
		g, ok := out.Group(o.Group)
		if !ok {
			return nil, fmt.Errorf("override %s: %w", o, ErrUnknownGroup)
		}
		if o.Name != "" {
			s, ok := g.SlotByName(o.Name)
			if !ok {
				return nil, fmt.Errorf("override %s: %w", o, ErrUnknownSlot)
			}
			s.Action = o.Action
			continue
		}
		if o.Bit < 0 || o.Bit >= SlotsPerGroup {
			return nil, fmt.Errorf("override %s: %w", o, ErrUnknownSlot)
		}
		g.Slots[o.Bit].Action = o.Action
	}
	return out, nil
}

// Group and aux register names used by the bespoke handlers.
const (
	GroupAT   = "FXR_AT_ERR_STS_1"
	GroupFPC  = "FPC_ERR_STS"
	GroupPMON = "PMON_ERR_STS"

	AuxPASIDInfo       = "err_info_1f"
	AuxPageInfo        = "err_info_1g"
	AuxUncorrectable   = "err_info_uncorrectable"
	AuxFMConfig        = "err_info_fmconfig"
	AuxPortRcv         = "err_info_portrcv"
	AuxPortRcvHdr0     = "err_info_portrcv_hdr0"
	AuxPortRcvHdr1     = "err_info_portrcv_hdr1"
	AuxPMONOverflow    = "err_info_overflow"
	AuxPMONConfigArray = "cfg_array"
)

// PMON overflow bits: one per counter group.
const (
	PMONFirstOverflowBit = 1
	PMONOverflowGroups   = 16
)

// DefaultOverrides returns the bespoke actions of the default table: the
// page group response error is routed by PASID, FPC port errors latch their
// info registers and PMON overflows feed the software counters.
func DefaultOverrides() []Override {
	o := []Override{
		{Group: GroupAT, Name: "pgr_rsp_err", Action: ActionPASIDDispatch},
		{Group: GroupFPC, Bit: 13, Action: ActionFPCUncorrectable},
		{Group: GroupFPC, Bit: 19, Action: ActionFPCLinkDown},
		{Group: GroupFPC, Bit: 54, Action: ActionFPCFMConfig},
		{Group: GroupFPC, Bit: 55, Action: ActionFPCRcvPort},
	}
	for i := 0; i < PMONOverflowGroups; i++ {
		o = append(o, Override{Group: GroupPMON, Bit: PMONFirstOverflowBit + i, Action: ActionPMONOverflow})
	}
	return o
}

// ClassifyDefault classifies the embedded table with the default overrides.
func ClassifyDefault(strict bool) (*Registry, error) {
	reg, err := Default()
	if err != nil {
		return nil, err
	}
	return Classify(reg, ClassifyOptions{Strict: strict, Overrides: DefaultOverrides()})
}
