package device

import (
	"context"
	"time"

	"github.com/rocketbitz/fabric-errd/cleardown"
)

// HistoryKind classifies a history event.
type HistoryKind string

const (
	HistoryFired   HistoryKind = "fired"
	HistoryMasked  HistoryKind = "masked"
	HistoryDropped HistoryKind = "dropped"
	HistoryFatal   HistoryKind = "fatal"
)

// HistoryEvent is one entry of the fault history.
type HistoryEvent struct {
	Time    time.Time
	Kind    HistoryKind
	Domain  string
	Group   string
	Bit     int
	Name    string
	Action  string
	Bits    uint64
	Message string
}

// HistorySink persists fault history. It runs off the interrupt path.
type HistorySink interface {
	Record(ctx context.Context, ev HistoryEvent) error
}

func historyFromEvent(kind HistoryKind, ev cleardown.Event, msg string) HistoryEvent {
	return HistoryEvent{
		Time:    time.Now().UTC(),
		Kind:    kind,
		Domain:  ev.Domain.Name,
		Group:   ev.Group.Name,
		Bit:     ev.Bit,
		Name:    ev.Slot.Name,
		Action:  ev.Slot.Action.String(),
		Bits:    uint64(1) << uint(ev.Bit),
		Message: msg,
	}
}

// offerHistory queues ev without blocking; a full buffer drops it.
func (d *Device) offerHistory(ev HistoryEvent) {
	if d.history == nil {
		return
	}
	select {
	case d.history <- ev:
	default:
		d.stats.historyDropped.Add(1)
	}
}

func (d *Device) drainHistory() {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-d.history:
			d.writeHistory(ctx, ev)
		case <-d.stopCh:
			for {
				select {
				case ev := <-d.history:
					d.writeHistory(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Device) writeHistory(ctx context.Context, ev HistoryEvent) {
	if err := d.cfg.History.Record(ctx, ev); err != nil {
		d.stats.historyDropped.Add(1)
		d.logDispatcherEvent("history_error", logKV("error", err), logKV("kind", ev.Kind))
	}
}
