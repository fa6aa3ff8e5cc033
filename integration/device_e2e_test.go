//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/device"
	"github.com/rocketbitz/fabric-errd/errdomain"
	"github.com/rocketbitz/fabric-errd/eventlog"
	"github.com/rocketbitz/fabric-errd/internal/csr"
)

type DeviceSuite struct {
	suite.Suite
	regs    *csr.Sim
	dev     *device.Device
	history *eventlog.Store
}

func (s *DeviceSuite) SetupTest() {
	s.regs = csr.NewSim()
	for _, d := range errdomain.MustDefault().Domains() {
		for _, g := range d.Groups {
			s.Require().NoError(s.regs.MapErrorBlock(g.Status, g.Clear, g.Force))
		}
	}
	store, err := eventlog.Open(filepath.Join(s.T().TempDir(), "history.db"))
	s.Require().NoError(err)
	s.history = store

	dev, err := device.Open(device.Config{History: store, QueueCapacity: 1024}, s.regs)
	s.Require().NoError(err)
	s.dev = dev
}

func (s *DeviceSuite) TearDownTest() {
	_ = s.dev.Close()
	_ = s.history.Close()
}

func (s *DeviceSuite) irqOf(group string) int {
	for _, d := range s.dev.Registry().Domains() {
		for _, g := range d.Groups {
			if g.Name == group {
				return d.IRQ
			}
		}
	}
	s.FailNow("group not found", group)
	return -1
}

// Every consumer receives exactly the faults tagged with its PASID, in
// order, while the dispatcher drains another line concurrently.
func (s *DeviceSuite) TestConcurrentRouting() {
	const (
		consumers = 8
		perPASID  = 25
		noise     = 50
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lines := make(chan int, 16)
	runDone := make(chan error, 1)
	go func() { runDone <- s.dev.Run(ctx, lines) }()

	cs := make([]*asyncerr.Consumer, consumers)
	for i := range cs {
		c, err := s.dev.EnableAsyncErrors(asyncerr.Owner(i+1), uint32(100+i))
		s.Require().NoError(err)
		cs[i] = c
	}

	var wg sync.WaitGroup
	got := make([][]asyncerr.Record, consumers)
	errs := make([]error, consumers)
	for i, c := range cs {
		wg.Add(1)
		go func(i int, c *asyncerr.Consumer) {
			defer wg.Done()
			for len(got[i]) < perPASID {
				rec, err := s.dev.GetAsyncError(ctx, c, asyncerr.Owner(i+1), 5*time.Second)
				if err != nil {
					errs[i] = err
					return
				}
				got[i] = append(got[i], rec)
			}
		}(i, c)
	}

	at, ok := s.dev.Registry().Group(errdomain.GroupAT)
	s.Require().True(ok)
	otr, ok := s.dev.Registry().Group("TXOTR_PKT_ERR_STS_0")
	s.Require().True(ok)
	atIRQ := s.irqOf(at.Name)
	otrIRQ := s.irqOf(otr.Name)

	noiseDone := make(chan struct{})
	go func() {
		defer close(noiseDone)
		for i := 0; i < noise; i++ {
			s.regs.Write(otr.Force, 1<<4)
			select {
			case lines <- otrIRQ:
			case <-ctx.Done():
				return
			}
		}
	}()

	// the error info registers hold one fault until its status bit is
	// cleared, so page group faults are raised and serviced one at a time
	for n := 0; n < perPASID; n++ {
		for i := range cs {
			s.regs.Set(at.Aux[errdomain.AuxPASIDInfo], uint64(100+i)|uint64(asyncerr.ClientTXDMA)<<32)
			s.regs.Set(at.Aux[errdomain.AuxPageInfo], uint64(n+1)<<12)
			s.regs.Write(at.Force, 1<<7)
			s.Require().NoError(s.dev.HandleIRQ(atIRQ))
		}
	}

	wg.Wait()
	<-noiseDone
	for i := range cs {
		s.Require().NoError(errs[i], "consumer %d", i)
		s.Require().Len(got[i], perPASID)
		for n, rec := range got[i] {
			s.Equal(uint32(100+i), rec.PASID)
			s.Equal(uint64(n+1)<<12, rec.VirtAddr())
		}
	}

	cancel()
	s.Require().NoError(<-runDone)

	st := s.dev.Stats()
	s.Equal(uint64(consumers*perPASID), st.RecordsDelivered)
	s.Zero(st.RecordsDropped)
	s.Zero(st.RecordsUnrouted)
}

// Closing the device wakes blocked readers and flushes the history store.
func (s *DeviceSuite) TestCloseFlushesHistory() {
	c, err := s.dev.EnableAsyncErrors(7, 7)
	s.Require().NoError(err)

	readErr := make(chan error, 1)
	go func() {
		_, err := s.dev.GetAsyncError(context.Background(), c, 7, -1)
		readErr <- err
	}()

	otr, _ := s.dev.Registry().Group("TXOTR_PKT_ERR_STS_0")
	s.regs.Latch(otr.Status, 1<<8)
	s.Require().NoError(s.dev.HandleIRQ(s.irqOf(otr.Name)))
	s.Require().NoError(s.dev.Close())

	select {
	case err := <-readErr:
		s.ErrorIs(err, asyncerr.ErrTerminated)
	case <-time.After(5 * time.Second):
		s.FailNow("reader not released")
	}

	events, err := s.history.Get(context.Background(), time.Time{})
	s.Require().NoError(err)
	kinds := map[device.HistoryKind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	s.Equal(20, kinds[device.HistoryFired])
	s.Equal(1, kinds[device.HistoryMasked])
}

func TestDeviceSuite(t *testing.T) {
	suite.Run(t, new(DeviceSuite))
}
