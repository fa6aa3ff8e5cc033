package device

import (
	"fmt"
	"math"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/cleardown"
	"github.com/rocketbitz/fabric-errd/errdomain"
	"github.com/rocketbitz/fabric-errd/internal/csr"
)

// FatalKind identifies the scope of a fatal error.
type FatalKind int

const (
	FatalDevice FatalKind = iota
	FatalNode
)

func (k FatalKind) String() string {
	switch k {
	case FatalDevice:
		return "device"
	case FatalNode:
		return "node"
	default:
		return "unknown"
	}
}

// FatalEvent describes a fault bit whose category requires escalation.
type FatalEvent struct {
	Kind   FatalKind
	Domain string
	Group  string
	Bit    int
	Name   string
	Status uint64
}

// FatalHook decides how a fatal error is escalated. It runs on the
// interrupt path and must not block.
type FatalHook func(FatalEvent)

// Page group request error info layout.
const (
	pgrPASIDMask   = 0xfffff
	pgrClientShift = 32
	pgrClientMask  = 0x7
)

// PMON layout: 16 groups of 32 counters in the configuration array.
const (
	PMONCountersPerGroup = 32
	PMONCounters         = errdomain.PMONOverflowGroups * PMONCountersPerGroup

	pmonCounterAddrMask = 0xffffff
	pmonOverflowFlag    = uint64(1) << 63
)

// Port error info encoding: a status bit latches the first code.
const (
	ErrorInfoStatus = 0x80
	ErrorInfoCode   = 0x0f
)

// PortErrorInfo is the latched error information of the fabric port.
type PortErrorInfo struct {
	Uncorrectable uint8
	FMConfig      uint8
	RcvPort       uint8
	RcvPortFlit1  uint64
	RcvPortFlit2  uint64
	LinkDowned    uint32
}

var fmConfigReasons = map[uint64]string{
	0: "BadHeadDist: Distance violation between two head flits",
	1: "BadTailDist: Distance violation between two tail flits",
	2: "BadCtrlDist: Distance violation between two credit control flits",
	3: "BadCrdAck: Credits return for unsupported VL",
	4: "UnsupportedVLMarker: Received VL Marker",
	5: "BadPreempt: Exceeded the preemption nesting level",
	6: "BadControlFlit: Received unsupported control flit",
	8: "UnsupportedVLMarker: Received VL Marker for unconfigured or disabled VL",
}

var portRcvReasons = map[uint64]string{
	1:  "BadPktLen: Illegal PktLen",
	2:  "PktLenTooLong: Packet longer than PktLen",
	3:  "PktLenTooShort: Packet shorter than PktLen",
	4:  "BadSLID: Illegal SLID (0, using multicast as SLID)",
	5:  "BadDLID: Illegal DLID (0, doesn't match HFI)",
	6:  "BadL2: Unsupported L2 Type",
	7:  "BadSC: Invalid SC",
	9:  "Headless: Tail or Body before Head",
	11: "PreemptError: Preempting with same VL",
	12: "PreemptVL15: Interleaving a VL15 packet between two Gen1 devices",
	13: "BadVLMarker: SC Marker for an inactive VL",
	14: "PreemptL2Head: Interleaving of the L2 Header",
}

func reasonText(reasons map[uint64]string, info uint64) string {
	if text, ok := reasons[info]; ok {
		return text
	}
	return fmt.Sprintf("reserved%d", info)
}

func eventFields(ev cleardown.Event) []logField {
	return []logField{
		logKV("domain", ev.Domain.Name),
		logKV("group", ev.Group.Name),
		logKV("bit", ev.Bit),
		logKV("name", ev.Slot.Name),
		logKV("action", ev.Slot.Action.String()),
	}
}

// HandleEvent runs the action classified for the fired bit.
func (d *Device) HandleEvent(ev cleardown.Event) {
	d.stats.events.Add(1)
	d.metricEventFired(
		logKV(labelDomain, ev.Domain.Name),
		logKV(labelGroup, ev.Group.Name),
		logKV(labelAction, ev.Slot.Action.String()),
	)
	fields := eventFields(ev)

	switch ev.Slot.Action {
	case errdomain.ActionLogOkay:
		d.logFault(levelInfo, "error bit fired, nothing to do", fields...)
	case errdomain.ActionLogInfo:
		d.logFault(levelInfo, "error bit fired, information only", fields...)
	case errdomain.ActionLogCorrectable:
		d.logFault(levelInfo, "error bit fired, corrected", fields...)
	case errdomain.ActionLogTransaction:
		d.logFault(levelWarn, "error bit fired, transaction error", fields...)
	case errdomain.ActionLogProcess:
		d.logFault(levelWarn, "error bit fired, process error", fields...)
	case errdomain.ActionDeviceFatal:
		d.stats.deviceFatal.Add(1)
		d.logFault(levelError, "error bit fired, device error", fields...)
		d.escalate(FatalDevice, ev, d.cfg.DeviceFatalHook)
	case errdomain.ActionNodeFatal:
		d.stats.nodeFatal.Add(1)
		d.logFault(levelError, "error bit fired, node error", fields...)
		d.escalate(FatalNode, ev, d.cfg.NodeFatalHook)
	case errdomain.ActionStrictUncategorized:
		d.stats.uncategorized.Add(1)
		d.logFault(levelError, "error bit fired, bit not categorized", append(fields, logKV("desc", ev.Slot.Desc))...)
	case errdomain.ActionHardwareBug:
		d.stats.hardwareBugs.Add(1)
		d.logFault(levelError, "undefined error bit fired, hardware bug", append(fields, logKV("status", fmt.Sprintf("%#x", ev.Status)))...)
	case errdomain.ActionUnimplemented:
		d.stats.unimplemented.Add(1)
		d.logFault(levelWarn, "error bit fired, no handler", fields...)
	case errdomain.ActionPASIDDispatch:
		d.handlePageGroupError(ev, fields)
	case errdomain.ActionPMONOverflow:
		d.handlePMONOverflow(ev, fields)
	case errdomain.ActionFPCUncorrectable:
		d.handleFPCUncorrectable(ev, fields)
	case errdomain.ActionFPCLinkDown:
		d.handleFPCLinkDown(fields)
	case errdomain.ActionFPCFMConfig:
		d.handleFPCFMConfig(ev, fields)
	case errdomain.ActionFPCRcvPort:
		d.handleFPCRcvPort(ev, fields)
	default:
		d.stats.hardwareBugs.Add(1)
		d.logFault(levelError, "error bit fired without an action", fields...)
	}

	d.offerHistory(historyFromEvent(HistoryFired, ev, ev.Slot.Desc))
}

func (d *Device) escalate(kind FatalKind, ev cleardown.Event, hook FatalHook) {
	d.metricFatalError(kind.String(), logKV(labelDomain, ev.Domain.Name))
	d.offerHistory(historyFromEvent(HistoryFatal, ev, kind.String()+" fatal"))
	if hook == nil {
		return
	}
	hook(FatalEvent{
		Kind:   kind,
		Domain: ev.Domain.Name,
		Group:  ev.Group.Name,
		Bit:    ev.Bit,
		Name:   ev.Slot.Name,
		Status: ev.Status,
	})
}

func (d *Device) aux(ev cleardown.Event, name string) (csr.Offset, bool) {
	off, ok := ev.Group.Aux[name]
	if !ok {
		d.logFault(levelError, "error info register missing from table",
			logKV("group", ev.Group.Name), logKV("register", name))
	}
	return off, ok
}

func (d *Device) handlePageGroupError(ev cleardown.Event, fields []logField) {
	off1f, ok1 := d.aux(ev, errdomain.AuxPASIDInfo)
	off1g, ok2 := d.aux(ev, errdomain.AuxPageInfo)
	if !ok1 || !ok2 {
		return
	}
	info1f := d.acc.Read(off1f)
	info1g := d.acc.Read(off1g)
	rec := asyncerr.Record{
		Type:   asyncerr.RecordPageGroupRequest,
		PASID:  uint32(info1f & pgrPASIDMask),
		Client: asyncerr.Client((info1f >> pgrClientShift) & pgrClientMask),
		Info:   info1g,
	}
	fields = append(fields,
		logKV("pasid", rec.PASID),
		logKV("client", rec.Client.String()),
		logKV("vaddr", fmt.Sprintf("%#x", rec.VirtAddr())),
		logKV("access", rec.Access().String()),
	)
	d.logFault(levelWarn, "page group response error", fields...)

	out := d.dispatcher.Dispatch(rec.PASID, rec)
	d.metricRecordRouted(out.String())
	switch out {
	case asyncerr.OutcomeDelivered:
		d.stats.recordsDelivered.Add(1)
	case asyncerr.OutcomeUnrouted:
		d.stats.recordsUnrouted.Add(1)
	default:
		d.stats.recordsDropped.Add(1)
		d.logFault(levelWarn, "async error record dropped", append(fields, logKV("outcome", out.String()))...)
		d.offerHistory(historyFromEvent(HistoryDropped, ev, out.String()))
	}
}

func (d *Device) handlePMONOverflow(ev cleardown.Event, fields []logField) {
	infoOff, ok1 := d.aux(ev, errdomain.AuxPMONOverflow)
	cfgOff, ok2 := d.aux(ev, errdomain.AuxPMONConfigArray)
	if !ok1 || !ok2 {
		return
	}
	addr := csr.Offset(d.acc.Read(infoOff) & pmonCounterAddrMask)
	if addr < cfgOff || int((addr-cfgOff)/8) >= PMONCounters {
		d.logFault(levelWarn, "pmon overflow outside the counter array",
			append(fields, logKV("address", addr.String()))...)
		return
	}
	first := int((addr - cfgOff) / 8)
	last := first | (PMONCountersPerGroup - 1)

	overflowed := 0
	d.pmonMu.Lock()
	for i := first; i <= last; i++ {
		if d.acc.Read(cfgOff+csr.Offset(i*8))&pmonOverflowFlag != 0 {
			d.pmon[i]++
			overflowed++
		}
	}
	d.pmonMu.Unlock()
	d.logFault(levelInfo, "pmon counter overflow",
		append(fields, logKV("counter", first), logKV("overflowed", overflowed))...)
}

// PMONCounters returns the software extension of every PMON counter.
func (d *Device) PMONCounters() []uint16 {
	d.pmonMu.Lock()
	defer d.pmonMu.Unlock()
	out := make([]uint16, len(d.pmon))
	copy(out, d.pmon[:])
	return out
}

func latch(slot *uint8, info uint64) bool {
	if *slot&ErrorInfoStatus != 0 {
		return false
	}
	*slot = uint8(info&ErrorInfoCode) | ErrorInfoStatus
	return true
}

func (d *Device) handleFPCUncorrectable(ev cleardown.Event, fields []logField) {
	off, ok := d.aux(ev, errdomain.AuxUncorrectable)
	if !ok {
		return
	}
	d.portMu.Lock()
	latched := false
	if d.port.Uncorrectable&ErrorInfoStatus == 0 {
		latched = latch(&d.port.Uncorrectable, d.acc.Read(off))
	}
	d.portMu.Unlock()
	d.logFault(levelWarn, "fpc uncorrectable error", append(fields, logKV("latched", latched))...)
}

func (d *Device) handleFPCLinkDown(fields []logField) {
	d.portMu.Lock()
	if d.port.LinkDowned < math.MaxUint32 {
		d.port.LinkDowned++
	}
	count := d.port.LinkDowned
	d.portMu.Unlock()
	d.logFault(levelWarn, "fpc link downed", append(fields, logKV("link_downed", count))...)
}

func (d *Device) handleFPCFMConfig(ev cleardown.Event, fields []logField) {
	off, ok := d.aux(ev, errdomain.AuxFMConfig)
	if !ok {
		return
	}
	info := d.acc.Read(off)
	d.portMu.Lock()
	latch(&d.port.FMConfig, info)
	d.portMu.Unlock()
	d.logFault(levelInfo, "fpc fmconfig error", append(fields, logKV("reason", reasonText(fmConfigReasons, info)))...)
}

func (d *Device) handleFPCRcvPort(ev cleardown.Event, fields []logField) {
	off, ok := d.aux(ev, errdomain.AuxPortRcv)
	if !ok {
		return
	}
	info := d.acc.Read(off)
	var hdr0, hdr1 uint64
	if h, ok := ev.Group.Aux[errdomain.AuxPortRcvHdr0]; ok {
		hdr0 = d.acc.Read(h)
	}
	if h, ok := ev.Group.Aux[errdomain.AuxPortRcvHdr1]; ok {
		hdr1 = d.acc.Read(h)
	}
	d.portMu.Lock()
	if latch(&d.port.RcvPort, info) {
		d.port.RcvPortFlit1 = hdr0
		d.port.RcvPortFlit2 = hdr1
	}
	d.portMu.Unlock()
	d.logFault(levelInfo, "fpc portrcv error", append(fields,
		logKV("reason", reasonText(portRcvReasons, info)),
		logKV("hdr0", fmt.Sprintf("%#x", hdr0)),
		logKV("hdr1", fmt.Sprintf("%#x", hdr1)),
	)...)
}

// PortErrorInfo returns the latched port error information.
func (d *Device) PortErrorInfo() PortErrorInfo {
	d.portMu.Lock()
	defer d.portMu.Unlock()
	return d.port
}

// ClearPortErrorInfo re-arms the port error latches. The link downed
// counter is kept.
func (d *Device) ClearPortErrorInfo() {
	d.portMu.Lock()
	d.port.Uncorrectable = 0
	d.port.FMConfig = 0
	d.port.RcvPort = 0
	d.port.RcvPortFlit1 = 0
	d.port.RcvPortFlit2 = 0
	d.portMu.Unlock()
}
