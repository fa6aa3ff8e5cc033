package errdomain

import (
	"fmt"
	"strings"
)

// ActionKind names the behaviour run when a fault bit fires. It is assigned
// once by Classify and resolved by a single dispatch point at interrupt time.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionHardwareBug
	ActionUnimplemented
	ActionLogOkay
	ActionLogInfo
	ActionLogCorrectable
	ActionLogTransaction
	ActionLogProcess
	ActionDeviceFatal
	ActionNodeFatal
	ActionStrictUncategorized
	ActionPASIDDispatch
	ActionPMONOverflow
	ActionFPCUncorrectable
	ActionFPCLinkDown
	ActionFPCFMConfig
	ActionFPCRcvPort
)

var actionNames = [...]string{
	ActionNone:                "none",
	ActionHardwareBug:         "hardware_bug",
	ActionUnimplemented:       "unimplemented",
	ActionLogOkay:             "okay",
	ActionLogInfo:             "info",
	ActionLogCorrectable:      "correctable",
	ActionLogTransaction:      "transaction",
	ActionLogProcess:          "process",
	ActionDeviceFatal:         "device_fatal",
	ActionNodeFatal:           "node_fatal",
	ActionStrictUncategorized: "uncategorized",
	ActionPASIDDispatch:       "pasid_dispatch",
	ActionPMONOverflow:        "pmon_overflow",
	ActionFPCUncorrectable:    "fpc_uncorrectable",
	ActionFPCLinkDown:         "fpc_link_down",
	ActionFPCFMConfig:         "fpc_fmconfig",
	ActionFPCRcvPort:          "fpc_rcvport",
}

func (a ActionKind) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseActionKind maps the configuration spelling of an action to its value.
func ParseActionKind(s string) (ActionKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range actionNames {
		if name == s && ActionKind(i) != ActionNone {
			return ActionKind(i), nil
		}
	}
	return ActionNone, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ActionForCategory returns the default action of a category. Uncategorized
// bits get the strict action only when strict detection is enabled.
func ActionForCategory(c Category, strict bool) ActionKind {
	switch c {
	case CategoryOkay:
		return ActionLogOkay
	case CategoryInfo:
		return ActionLogInfo
	case CategoryCorrectable:
		return ActionLogCorrectable
	case CategoryTransaction:
		return ActionLogTransaction
	case CategoryProcess:
		return ActionLogProcess
	case CategoryDeviceFatal:
		return ActionDeviceFatal
	case CategoryNodeFatal:
		return ActionNodeFatal
	case CategoryHardwareBug:
		return ActionHardwareBug
	default:
		if strict {
			return ActionStrictUncategorized
		}
		return ActionUnimplemented
	}
}
