// Package simulator drives a device over simulated registers: it injects
// the configured faults, services the interrupt lines and reads the async
// errors back the way a consumer would.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/config"
	"github.com/rocketbitz/fabric-errd/device"
	"github.com/rocketbitz/fabric-errd/errdomain"
	"github.com/rocketbitz/fabric-errd/eventlog"
	"github.com/rocketbitz/fabric-errd/internal/csr"
	"github.com/rocketbitz/fabric-errd/internal/log"
)

// Logger is the leveled logger the simulator reports through.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type Op struct {
	logger     Logger
	registerer prometheus.Registerer
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) {
	for _, opt := range opts {
		opt(op)
	}
	if op.logger == nil {
		op.logger = log.Logger
	}
}

func WithLogger(l Logger) OpOption {
	return func(op *Op) {
		op.logger = l
	}
}

// WithRegisterer exports device metrics to reg.
func WithRegisterer(reg prometheus.Registerer) OpOption {
	return func(op *Op) {
		op.registerer = reg
	}
}

type fault struct {
	cfg    config.Fault
	domain *errdomain.Domain
	group  *errdomain.Group
	bit    int
	client asyncerr.Client
	access asyncerr.Access
}

type reader struct {
	consumer *asyncerr.Consumer
	owner    asyncerr.Owner
	received atomic.Uint64
}

// Simulator owns a simulated device and its consumers.
type Simulator struct {
	cfg     *config.Config
	logger  Logger
	regs    *csr.Sim
	dev     *device.Device
	history *eventlog.Store
	faults  []fault
	readers []*reader
	rounds  atomic.Uint64

	closeOnce sync.Once
}

// New opens the device, attaches the configured consumers and resolves
// every fault against the classified registry.
func New(cfg *config.Config, opts ...OpOption) (*Simulator, error) {
	op := &Op{}
	op.applyOpts(opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	overrides, err := cfg.DomainOverrides()
	if err != nil {
		return nil, err
	}

	regs := csr.NewSim()
	reg, err := errdomain.Default()
	if err != nil {
		return nil, err
	}
	for _, d := range reg.Domains() {
		for _, g := range d.Groups {
			if err := regs.MapErrorBlock(g.Status, g.Clear, g.Force); err != nil {
				return nil, err
			}
		}
	}

	s := &Simulator{cfg: cfg, logger: op.logger, regs: regs}
	devCfg := device.Config{
		Name:                cfg.Device,
		Registry:            reg,
		Overrides:           overrides,
		StrictUncategorized: cfg.StrictUncategorized,
		MaxClearCount:       cfg.MaxClearCount,
		QueueCapacity:       cfg.QueueCapacity,
		SharedPoolSize:      cfg.SharedPoolSize,
		StructuredLogger:    op.logger,
		LeveledLogger:       op.logger,
	}
	if op.registerer != nil {
		metrics, err := device.NewPrometheusMetrics(device.PrometheusMetricsOptions{Registerer: op.registerer})
		if err != nil {
			return nil, err
		}
		devCfg.Metrics = metrics
	}
	if cfg.HistoryFile != "" {
		store, err := eventlog.Open(cfg.HistoryFile, eventlog.WithRetention(cfg.HistoryRetention.Duration))
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		s.history = store
		devCfg.History = store
	}

	dev, err := device.Open(devCfg, regs)
	if err != nil {
		s.closeHistory()
		return nil, err
	}
	s.dev = dev

	for _, c := range cfg.Consumers {
		owner := asyncerr.Owner(c.Owner)
		consumer, err := dev.EnableAsyncErrors(owner, c.PASID)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.readers = append(s.readers, &reader{consumer: consumer, owner: owner})
	}

	classified := dev.Registry()
	for _, fc := range cfg.Faults {
		slot, err := fc.Resolve(classified)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		g, _ := classified.Group(fc.Group)
		f := fault{cfg: fc, group: g, bit: slot.Bit, client: asyncerr.ClientTXDMA}
		doms := classified.Domains()
		for di := range doms {
			for _, dg := range doms[di].Groups {
				if dg.Name == g.Name {
					f.domain = &doms[di]
				}
			}
		}
		if fc.Client != "" {
			f.client, _ = config.ParseClient(fc.Client)
		}
		if f.access, err = config.ParseAccess(fc.Access); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.faults = append(s.faults, f)
	}
	return s, nil
}

// Device returns the simulated device.
func (s *Simulator) Device() *device.Device {
	return s.dev
}

// Registers returns the simulated register file.
func (s *Simulator) Registers() *csr.Sim {
	return s.regs
}

// Inject raises every configured fault and returns the interrupt lines
// that need servicing, one entry per line.
func (s *Simulator) Inject() []int {
	seen := make(map[int]struct{}, len(s.faults))
	var lines []int
	for _, f := range s.faults {
		if f.group.Slots[f.bit].Action == errdomain.ActionPASIDDispatch {
			s.regs.Set(f.group.Aux[errdomain.AuxPASIDInfo], uint64(f.cfg.PASID)|uint64(f.client)<<32)
			rec := asyncerr.NewPageGroupRecord(f.cfg.PASID, f.client, f.cfg.VirtAddr, f.access)
			s.regs.Set(f.group.Aux[errdomain.AuxPageInfo], rec.Info)
		}
		if f.cfg.Latch {
			s.regs.Latch(f.group.Status, 1<<uint(f.bit))
		} else {
			s.regs.Write(f.group.Force, 1<<uint(f.bit))
		}
		if _, ok := seen[f.domain.IRQ]; !ok {
			seen[f.domain.IRQ] = struct{}{}
			lines = append(lines, f.domain.IRQ)
		}
	}
	s.rounds.Add(1)
	return lines
}

// Step injects one round and services it synchronously.
func (s *Simulator) Step() error {
	for _, irq := range s.Inject() {
		if err := s.dev.HandleIRQ(irq); err != nil {
			return err
		}
	}
	return nil
}

// Drain reads every queued record without waiting and returns how many
// were read.
func (s *Simulator) Drain(ctx context.Context) (int, error) {
	n := 0
	for _, r := range s.readers {
		for {
			rec, err := s.dev.GetAsyncError(ctx, r.consumer, r.owner, 0)
			if errors.Is(err, asyncerr.ErrTimeout) {
				break
			}
			if err != nil {
				return n, err
			}
			r.received.Add(1)
			n++
			s.logger.Debugw("async error", "consumer", r.consumer.ID, "record", rec.String())
		}
	}
	return n, nil
}

// Run injects a round every InjectInterval until ctx is done or the
// configured number of rounds has run. Interrupt lines are serviced by the
// device dispatcher and every consumer is read concurrently.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan int, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.dev.Run(gctx, lines)
	})
	for _, r := range s.readers {
		r := r
		g.Go(func() error {
			return s.read(gctx, r)
		})
	}
	g.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(s.cfg.InjectInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			for _, irq := range s.Inject() {
				select {
				case lines <- irq:
				case <-gctx.Done():
					return nil
				}
			}
			if s.cfg.Rounds > 0 && s.rounds.Load() >= uint64(s.cfg.Rounds) {
				// give the dispatcher and readers a last interval to catch up
				select {
				case <-gctx.Done():
				case <-time.After(s.cfg.InjectInterval.Duration):
				}
				return nil
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		_, err = s.Drain(context.Background())
	}
	st := s.dev.Stats()
	s.logger.Infow("simulation finished",
		"rounds", s.rounds.Load(),
		"events", st.Events,
		"delivered", st.RecordsDelivered,
		"dropped", st.RecordsDropped,
		"masked_groups", st.MaskedGroups,
		"received", s.Received(),
	)
	return err
}

func (s *Simulator) read(ctx context.Context, r *reader) error {
	for {
		rec, err := s.dev.GetAsyncError(ctx, r.consumer, r.owner, s.cfg.ReadTimeout.Duration)
		switch {
		case err == nil:
			r.received.Add(1)
			s.logger.Infow("async error", "consumer", r.consumer.ID, "record", rec.String())
		case errors.Is(err, asyncerr.ErrTimeout):
		case errors.Is(err, asyncerr.ErrInterrupted), errors.Is(err, asyncerr.ErrTerminated):
			return nil
		default:
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Rounds returns how many injection rounds have run.
func (s *Simulator) Rounds() uint64 {
	return s.rounds.Load()
}

// Received returns the number of records read by all consumers.
func (s *Simulator) Received() uint64 {
	var n uint64
	for _, r := range s.readers {
		n += r.received.Load()
	}
	return n
}

// Close closes the device and the history store.
func (s *Simulator) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.dev != nil {
			err = s.dev.Close()
		}
		err = errors.Join(err, s.closeHistory())
	})
	return err
}

func (s *Simulator) closeHistory() error {
	if s.history == nil {
		return nil
	}
	return s.history.Close()
}
