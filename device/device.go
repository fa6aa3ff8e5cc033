// Package device wires the error domain registry, the clear-down engine and
// the asynchronous error queues into one object per device.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/cleardown"
	"github.com/rocketbitz/fabric-errd/errdomain"
	"github.com/rocketbitz/fabric-errd/internal/csr"
)

// Stats contains counters for device error handling.
type Stats struct {
	Interrupts       uint64
	ClearDowns       uint64
	Iterations       uint64
	Events           uint64
	MaskedGroups     uint64
	HardwareBugs     uint64
	Uncategorized    uint64
	Unimplemented    uint64
	DeviceFatal      uint64
	NodeFatal        uint64
	RecordsDelivered uint64
	RecordsDropped   uint64
	RecordsUnrouted  uint64
	HistoryDropped   uint64
	UnknownLines     uint64
	Consumers        int
}

type deviceStats struct {
	interrupts       atomic.Uint64
	clearDowns       atomic.Uint64
	iterations       atomic.Uint64
	events           atomic.Uint64
	maskedGroups     atomic.Uint64
	hardwareBugs     atomic.Uint64
	uncategorized    atomic.Uint64
	unimplemented    atomic.Uint64
	deviceFatal      atomic.Uint64
	nodeFatal        atomic.Uint64
	recordsDelivered atomic.Uint64
	recordsDropped   atomic.Uint64
	recordsUnrouted  atomic.Uint64
	historyDropped   atomic.Uint64
	unknownLines     atomic.Uint64
}

// Device owns the error handling state of one device.
type Device struct {
	cfg        Config
	acc        csr.Accessor
	reg        *errdomain.Registry
	engine     *cleardown.Engine
	dispatcher *asyncerr.Dispatcher
	pool       *asyncerr.Pool

	logger           Logger
	structuredLogger StructuredLogger
	leveled          LeveledLogger
	tracer           Tracer
	metrics          MetricHook
	stats            deviceStats

	portMu sync.Mutex
	port   PortErrorInfo

	pmonMu sync.Mutex
	pmon   [PMONCounters]uint16

	consumersMu sync.Mutex
	consumers   map[uuid.UUID]*asyncerr.Consumer

	history chan HistoryEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// Open classifies the error table, resets every error group and, unless
// running under emulation, enables every error line.
func Open(cfg Config, acc csr.Accessor) (*Device, error) {
	if acc == nil {
		return nil, errors.New("fabric-errd device: nil register accessor")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	reg, err := errdomain.Classify(cfg.Registry, errdomain.ClassifyOptions{
		Strict:    cfg.StrictUncategorized,
		Overrides: cfg.Overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("classify error table: %w", err)
	}

	d := &Device{
		cfg:              cfg,
		acc:              acc,
		reg:              reg,
		dispatcher:       asyncerr.NewDispatcher(),
		logger:           cfg.Logger,
		structuredLogger: cfg.StructuredLogger,
		leveled:          cfg.LeveledLogger,
		tracer:           cfg.Tracer,
		metrics:          cfg.Metrics,
		consumers:        make(map[uuid.UUID]*asyncerr.Consumer),
		stopCh:           make(chan struct{}),
	}
	if cfg.SharedPoolSize > 0 {
		d.pool = asyncerr.NewPool(cfg.SharedPoolSize)
	}

	opts := []cleardown.OpOption{
		cleardown.WithMaxClearCount(cfg.MaxClearCount),
		cleardown.WithObserver(engineObserver{d: d}),
	}
	if d.leveled != nil {
		opts = append(opts, cleardown.WithLogger(d.leveled))
	}
	engine, err := cleardown.New(acc, d, opts...)
	if err != nil {
		return nil, fmt.Errorf("create clear-down engine: %w", err)
	}
	d.engine = engine

	engine.Reset(reg)
	if !cfg.Emulation {
		engine.EnableAll(reg)
	}

	if cfg.History != nil {
		d.history = make(chan HistoryEvent, cfg.HistoryBuffer)
		d.wg.Add(1)
		go d.drainHistory()
	}

	d.logDispatcherEvent("open",
		logKV("domains", len(reg.Domains())),
		logKV("slots", reg.Count()),
		logKV("strict", cfg.StrictUncategorized),
		logKV("emulation", cfg.Emulation),
	)
	return d, nil
}

// Close tears down every consumer, waking blocked readers, and flushes
// the history buffer.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.stopCh)

	d.consumersMu.Lock()
	consumers := make([]*asyncerr.Consumer, 0, len(d.consumers))
	for _, c := range d.consumers {
		consumers = append(consumers, c)
	}
	d.consumers = make(map[uuid.UUID]*asyncerr.Consumer)
	d.consumersMu.Unlock()
	for _, c := range consumers {
		d.dispatcher.Detach(c)
	}

	d.wg.Wait()
	d.logDispatcherEvent("close", logKV("consumers", len(consumers)))
	return nil
}

// Registry returns the classified error table.
func (d *Device) Registry() *errdomain.Registry {
	return d.reg
}

// Masked returns the runaway bits masked on group.
func (d *Device) Masked(group string) uint64 {
	return d.engine.Masked(group)
}

// HandleIRQ services the error domain on irq. It is the body of the
// interrupt handler and never blocks on consumers.
func (d *Device) HandleIRQ(irq int) error {
	if d.closed.Load() {
		return ErrClosed
	}
	dom, ok := d.reg.Domain(irq)
	if !ok {
		d.stats.unknownLines.Add(1)
		return fmt.Errorf("%w: %d", ErrUnknownLine, irq)
	}
	d.stats.interrupts.Add(1)
	d.engine.ClearDown(dom)
	return nil
}

// Handler returns a function suitable for installation in an interrupt
// controller for irq.
func (d *Device) Handler(irq int) func() {
	return func() {
		if err := d.HandleIRQ(irq); err != nil && !errors.Is(err, ErrClosed) {
			d.logDispatcherEvent("irq_error", logKV("irq", irq), logKV("error", err))
		}
	}
}

// Run services interrupt lines received on lines until ctx is done, lines
// is closed or the device is closed. Each line gets its own worker so lines
// are drained concurrently; triggers that arrive while a line is being
// drained are coalesced into one more clear-down.
func (d *Device) Run(ctx context.Context, lines <-chan int) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	span := d.startDispatcherSpan()
	startFields := []logField{logKV("lines", len(d.reg.Lines()))}
	d.logDispatcherEvent("start", startFields...)
	spanAddEvent(span, "start", startFields...)
	d.metricDispatcherStarted()

	g, gctx := errgroup.WithContext(ctx)
	pending := make(map[int]chan struct{}, len(d.reg.Lines()))
	for _, irq := range d.reg.Lines() {
		irq := irq
		ch := make(chan struct{}, 1)
		pending[irq] = ch
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ch:
					if err := d.HandleIRQ(irq); err != nil {
						return err
					}
				}
			}
		})
	}
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-d.stopCh:
				return nil
			case irq, ok := <-lines:
				if !ok {
					return nil
				}
				ch, known := pending[irq]
				if !known {
					d.stats.unknownLines.Add(1)
					fields := []logField{logKV("irq", irq)}
					d.logDispatcherEvent("unknown_line", fields...)
					spanAddEvent(span, "unknown_line", fields...)
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	status := "ok"
	fields := []logField{logKV("status", status)}
	if err != nil {
		status = "error"
		fields[0] = logKV("status", status)
		fields = append(fields, logKV("error", err))
		spanRecordError(span, err)
	}
	d.logDispatcherEvent("stop", fields...)
	spanAddEvent(span, "stop", fields...)
	d.metricDispatcherStopped(logKV("status", status))
	if span != nil {
		span.End(err)
	}
	return err
}

func (d *Device) startDispatcherSpan() Span {
	if d == nil || d.tracer == nil {
		return nil
	}
	return d.tracer.StartSpan("fabric-errd-dispatcher",
		TraceAttribute{Key: "component", Value: "fabric-errd"},
		TraceAttribute{Key: "device", Value: d.cfg.Name},
	)
}

// EnableAsyncErrors creates a consumer for pasid owned by owner and starts
// routing its faults.
func (d *Device) EnableAsyncErrors(owner asyncerr.Owner, pasid uint32) (*asyncerr.Consumer, error) {
	opts := []asyncerr.OpOption{asyncerr.WithCapacity(d.cfg.QueueCapacity)}
	if d.pool != nil {
		opts = append(opts, asyncerr.WithAllocator(d.pool))
	}
	c := asyncerr.NewConsumer(owner, pasid, opts...)

	// Close flips closed before taking consumersMu, so a consumer inserted
	// here is either refused or seen by Close.
	d.consumersMu.Lock()
	if d.closed.Load() {
		d.consumersMu.Unlock()
		return nil, ErrClosed
	}
	if err := d.dispatcher.Attach(c); err != nil {
		d.consumersMu.Unlock()
		return nil, err
	}
	d.consumers[c.ID] = c
	d.consumersMu.Unlock()
	d.logDispatcherEvent("consumer_attached", logKV("consumer", c.ID), logKV("pasid", pasid), logKV("owner", owner))
	return c, nil
}

// GetAsyncError reads the next record of c on behalf of caller. A negative
// timeout waits forever and zero polls.
func (d *Device) GetAsyncError(ctx context.Context, c *asyncerr.Consumer, caller asyncerr.Owner, timeout time.Duration) (asyncerr.Record, error) {
	if c == nil {
		return asyncerr.Record{}, asyncerr.ErrPermissionDenied
	}
	return c.Dequeue(ctx, caller, timeout)
}

// CloseContext stops routing to c and releases its readers. Closing twice
// is safe.
func (d *Device) CloseContext(c *asyncerr.Consumer) {
	if c == nil {
		return
	}
	d.dispatcher.Detach(c)
	d.consumersMu.Lock()
	_, tracked := d.consumers[c.ID]
	delete(d.consumers, c.ID)
	d.consumersMu.Unlock()
	if tracked {
		d.logDispatcherEvent("consumer_detached", logKV("consumer", c.ID), logKV("pasid", c.PASID))
	}
}

// Stats returns a snapshot of device counters.
func (d *Device) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Interrupts:       d.stats.interrupts.Load(),
		ClearDowns:       d.stats.clearDowns.Load(),
		Iterations:       d.stats.iterations.Load(),
		Events:           d.stats.events.Load(),
		MaskedGroups:     d.stats.maskedGroups.Load(),
		HardwareBugs:     d.stats.hardwareBugs.Load(),
		Uncategorized:    d.stats.uncategorized.Load(),
		Unimplemented:    d.stats.unimplemented.Load(),
		DeviceFatal:      d.stats.deviceFatal.Load(),
		NodeFatal:        d.stats.nodeFatal.Load(),
		RecordsDelivered: d.stats.recordsDelivered.Load(),
		RecordsDropped:   d.stats.recordsDropped.Load(),
		RecordsUnrouted:  d.stats.recordsUnrouted.Load(),
		HistoryDropped:   d.stats.historyDropped.Load(),
		UnknownLines:     d.stats.unknownLines.Load(),
		Consumers:        d.dispatcher.Len(),
	}
}

type engineObserver struct {
	d *Device
}

func (o engineObserver) ClearDownCompleted(domain string, res cleardown.Result) {
	o.d.stats.clearDowns.Add(1)
	o.d.stats.iterations.Add(uint64(res.Iterations))
	o.d.metricClearDownCompleted(res.Iterations, logKV(labelDomain, domain))
}

func (o engineObserver) GroupMasked(domain, group string, bits uint64) {
	o.d.stats.maskedGroups.Add(1)
	o.d.metricGroupMasked(logKV(labelDomain, domain), logKV(labelGroup, group))
	o.d.offerHistory(HistoryEvent{
		Time:    time.Now().UTC(),
		Kind:    HistoryMasked,
		Domain:  domain,
		Group:   group,
		Bit:     -1,
		Bits:    bits,
		Message: "repeating error bits masked",
	})
}
