// Package sampler runs the sampling node: it waits for the trigger gate, then
// acquires and quantizes samples continuously while a periodic transmitter
// writes the latest level onto the bus.
package sampler

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sweeney/signal-link/internal/adc"
	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/metrics"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/status"
)

// NodeName labels events published by this node.
const NodeName = "sampler"

// Acquirer produces raw samples. *adc.Channel implements it.
type Acquirer interface {
	Sample(ctx context.Context) (logic.RawSample, error)
}

// Config holds the sampling node's timing.
type Config struct {
	// TxPeriod is the transmitter tick period.
	TxPeriod time.Duration
	// FaultCooldown is slept after a rejected or failed sample.
	FaultCooldown time.Duration
	// TriggerPoll is the trigger line polling interval.
	TriggerPoll time.Duration
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		TxPeriod:      time.Millisecond,
		FaultCooldown: time.Second,
		TriggerPoll:   10 * time.Millisecond,
	}
}

// Node is the sampling node. The acquisition loop is the only writer of the
// latest-level cell; the transmitter is its only reader and owns the clock bit.
type Node struct {
	cfg     Config
	acq     Acquirer
	trigger gpio.Input
	fault   gpio.Output
	bus     gpio.BusWriter
	pub     mqtt.Publisher
	tracker *status.Tracker
	now     func() time.Time

	enabled   atomic.Bool
	level     atomic.Uint32
	lastFrame atomic.Uint32
	tx        logic.Transmitter

	samples   atomic.Int64
	faults    atomic.Int64
	timeouts  atomic.Int64
	frames    atomic.Int64
	busErrors atomic.Int64

	// acquisition loop only
	faultOn bool
	lastRaw logic.RawSample

	console rate.Sometimes
	busLog  rate.Sometimes
}

// New creates a sampling node. pub and tracker may be nil.
func New(cfg Config, acq Acquirer, trigger gpio.Input, fault gpio.Output, bus gpio.BusWriter, pub mqtt.Publisher, tracker *status.Tracker) *Node {
	return &Node{
		cfg:     cfg,
		acq:     acq,
		trigger: trigger,
		fault:   fault,
		bus:     bus,
		pub:     pub,
		tracker: tracker,
		now:     time.Now,
		console: rate.Sometimes{Interval: time.Second},
		busLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Run waits for the trigger gate, then runs acquisition and transmission
// until ctx is cancelled. It returns nil on cancellation.
func (n *Node) Run(ctx context.Context) error {
	log.Printf("sampler: waiting for trigger")
	if err := WaitForTrigger(ctx, n.trigger, n.cfg.TriggerPoll); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	n.arm()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.acquire(gctx) })
	g.Go(func() error { return n.transmit(gctx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (n *Node) arm() {
	n.enabled.Store(true)
	log.Printf("sampler: armed, tx period %v", n.cfg.TxPeriod)
	n.publish(logic.Event{Type: logic.EventArmed})
	n.report()
}

// Enabled reports whether the trigger gate has opened. Once true it stays true.
func (n *Node) Enabled() bool {
	return n.enabled.Load()
}

// Level returns the latest quantized level.
func (n *Node) Level() logic.Level {
	return logic.Level(n.level.Load())
}

// Counts returns the node's counters.
func (n *Node) Counts() logic.Counts {
	return logic.Counts{
		Samples:  int(n.samples.Load()),
		Faults:   int(n.faults.Load()),
		Timeouts: int(n.timeouts.Load()),
		Frames:   int(n.frames.Load()),

		BusWriteErrors: int(n.busErrors.Load()),
	}
}

// acquire samples continuously. A rejected or failed sample asserts the
// fault line and cools down; the latest level is left unchanged.
func (n *Node) acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := n.acq.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.acquisitionFailed(err)
			if err := sleep(ctx, n.cfg.FaultCooldown); err != nil {
				return err
			}
			continue
		}
		n.lastRaw = raw

		lvl, err := logic.Quantize(raw)
		if err != nil {
			n.outOfRange(raw)
			if err := sleep(ctx, n.cfg.FaultCooldown); err != nil {
				return err
			}
			continue
		}

		n.setFault(false)
		n.level.Store(uint32(lvl))
		n.samples.Add(1)
		metrics.SamplesTotal.WithLabelValues("ok").Inc()
		metrics.Level.Set(float64(lvl))
		n.console.Do(func() {
			log.Printf("sampler: measured %d transmitted %#02x", raw, n.lastFrame.Load())
		})
		n.report()
	}
}

func (n *Node) outOfRange(raw logic.RawSample) {
	n.setFault(true)
	n.faults.Add(1)
	metrics.SamplesTotal.WithLabelValues("out_of_range").Inc()
	log.Printf("sampler: sample %d out of range [%d, %d], cooling down %v",
		raw, logic.ValidMin, logic.ValidMax, n.cfg.FaultCooldown)
	n.publish(logic.Event{Type: logic.EventSampleOutOfRange, Raw: raw})
	n.report()
}

func (n *Node) acquisitionFailed(err error) {
	n.setFault(true)
	if errors.Is(err, adc.ErrConversionTimeout) {
		n.timeouts.Add(1)
		metrics.SamplesTotal.WithLabelValues("timeout").Inc()
		n.publish(logic.Event{Type: logic.EventAcquisitionTimeout})
	}
	log.Printf("sampler: acquisition failed: %v", err)
	n.report()
}

// setFault drives the fault line on change only.
func (n *Node) setFault(on bool) {
	if n.faultOn == on {
		return
	}
	if err := n.fault.Set(on); err != nil {
		log.Printf("sampler: fault line: %v", err)
		return
	}
	n.faultOn = on
}

// transmit writes one frame per tick. The tick body never blocks on the
// acquisition path.
func (n *Node) transmit(ctx context.Context) error {
	t := time.NewTicker(n.cfg.TxPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n.tick()
		}
	}
}

func (n *Node) tick() {
	f := n.tx.Next(logic.Level(n.level.Load()))
	if err := n.bus.WriteByte(byte(f)); err != nil {
		n.busErrors.Add(1)
		metrics.BusWriteErrorsTotal.Inc()
		n.busLog.Do(func() { log.Printf("sampler: bus write: %v", err) })
		return
	}
	n.lastFrame.Store(uint32(f))
	n.frames.Add(1)
	metrics.FramesTotal.Inc()
}

func (n *Node) publish(e logic.Event) {
	if n.pub == nil {
		return
	}
	e.Timestamp = n.now()
	e.Node = NodeName
	if err := n.pub.Publish(e); err != nil {
		log.Printf("sampler: publish %s: %v", e.Type, err)
	}
}

func (n *Node) report() {
	if n.tracker == nil {
		return
	}
	n.tracker.SetSampler(status.SamplerState{
		Armed: n.enabled.Load(),
		Raw:   n.lastRaw,
		Level: n.Level(),
		Frame: logic.Frame(n.lastFrame.Load()),
		Fault: n.faultOn,
	})
	n.tracker.MergeCounts(n.Counts())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
