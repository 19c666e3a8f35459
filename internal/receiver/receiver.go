// Package receiver runs the receiving node: it stamps and services capture
// events from the bus, drives the actuators, and raises an alert when the
// link goes quiet for longer than the threshold.
package receiver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/metrics"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/pwm"
	"github.com/sweeney/signal-link/internal/status"
	"github.com/sweeney/signal-link/internal/ticks"
)

// NodeName labels events published by this node.
const NodeName = "receiver"

// Config holds the receiving node's timing.
type Config struct {
	// DiagPoll is the diagnostic loop's polling interval.
	DiagPoll time.Duration
	// Threshold is the largest allowed gap between captures, in ticks.
	Threshold uint16
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		DiagPoll:  time.Millisecond,
		Threshold: logic.AlertThreshold,
	}
}

// Node is the receiving node.
type Node struct {
	cfg       Config
	capture   gpio.CaptureLine
	bus       gpio.BusReader
	counter   ticks.Counter
	alert     gpio.Output
	actuators pwm.Pair
	pub       mqtt.Publisher
	tracker   *status.Tracker
	now       func() time.Time

	inbox     *Inbox
	busErrors atomic.Int64

	// mu guards the monitor and the outputs it drives.
	mu      sync.Mutex
	mon     *logic.Monitor
	duty    uint8
	alertOn bool

	first     chan struct{}
	firstOnce sync.Once
	cleared   chan struct{}

	console rate.Sometimes
	edgeLog rate.Sometimes
}

// New creates a receiving node. pub and tracker may be nil.
func New(cfg Config, capture gpio.CaptureLine, bus gpio.BusReader, counter ticks.Counter, alert gpio.Output, actuators pwm.Pair, pub mqtt.Publisher, tracker *status.Tracker) *Node {
	return &Node{
		cfg:       cfg,
		capture:   capture,
		bus:       bus,
		counter:   counter,
		alert:     alert,
		actuators: actuators,
		pub:       pub,
		tracker:   tracker,
		now:       time.Now,
		inbox:     NewInbox(),
		mon:       logic.NewMonitor(cfg.Threshold),
		duty:      logic.InitialDuty,
		first:     make(chan struct{}),
		cleared:   make(chan struct{}, 1),
		console:   rate.Sometimes{Interval: time.Second},
		edgeLog:   rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Run drives the actuators to the initial duty, starts capture delivery and
// runs the capture service and diagnostic loop until ctx is cancelled. It
// returns nil on cancellation.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	n.setDuty(logic.InitialDuty)
	n.mu.Unlock()
	n.report()

	if err := n.capture.Watch(n.onEdge); err != nil {
		return fmt.Errorf("watch capture line: %w", err)
	}
	log.Printf("receiver: listening, alert threshold %d ticks", n.cfg.Threshold)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.serve(gctx) })
	g.Go(func() error { return n.diagnose(gctx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// onEdge is the capture handler. It stamps the edge, samples the bus and
// posts the event without blocking.
func (n *Node) onEdge(ts time.Duration) {
	stamp := n.counter.At(ts)
	b, err := n.bus.ReadByte()
	if err != nil {
		n.busErrors.Add(1)
		metrics.BusReadErrorsTotal.Inc()
		n.edgeLog.Do(func() { log.Printf("receiver: bus read: %v", err) })
		return
	}
	if n.inbox.Post(logic.CaptureEvent{Timestamp: stamp, Bus: b}) {
		n.mu.Lock()
		n.mon.Overrun()
		n.mu.Unlock()
		metrics.CaptureOverrunsTotal.Inc()
	}
}

func (n *Node) serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.inbox.Ready():
			if ev, ok := n.inbox.Take(); ok {
				n.service(ev)
			}
		}
	}
}

// service handles one capture event. An active alert is cleared before the
// actuators are updated.
func (n *Node) service(ev logic.CaptureEvent) {
	n.mu.Lock()
	res := n.mon.Capture(ev, n.now())
	n.setAlert(false)
	n.setDuty(res.Duty)
	n.mu.Unlock()

	n.firstOnce.Do(func() {
		close(n.first)
		log.Printf("receiver: first capture, diagnostics enabled")
	})
	if res.Cleared != nil {
		select {
		case n.cleared <- struct{}{}:
		default:
		}
		metrics.AlertActive.Set(0)
		log.Printf("receiver: alert cleared after %v", res.Cleared.AlertFor)
		n.publish(*res.Cleared)
	}

	metrics.CapturesTotal.Inc()
	metrics.Duty.Set(float64(res.Duty))
	n.console.Do(func() {
		log.Printf("receiver: bus %#02x duty %d", ev.Bus, res.Duty)
	})
	n.report()
}

// diagnose waits for the first capture, then polls the gap since the last
// one. A raised alert stays latched until the next capture clears it.
func (n *Node) diagnose(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.first:
	}

	t := time.NewTicker(n.cfg.DiagPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		n.mu.Lock()
		ev := n.mon.Check(n.counter.Now(), n.now())
		delta := n.mon.LastDelta()
		if ev != nil {
			n.setAlert(true)
		}
		n.mu.Unlock()
		metrics.TimeDelta.Set(float64(delta))
		if ev == nil {
			continue
		}

		metrics.AlertsTotal.Inc()
		metrics.AlertActive.Set(1)
		log.Printf("receiver: no capture for %d ticks, alert raised", ev.Delta)
		n.publish(*ev)
		n.report()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.cleared:
		}
	}
}

// setAlert drives the alert line on change only. Callers hold mu.
func (n *Node) setAlert(on bool) {
	if n.alertOn == on {
		return
	}
	if err := n.alert.Set(on); err != nil {
		log.Printf("receiver: alert line: %v", err)
		return
	}
	n.alertOn = on
}

// setDuty writes duty to both actuators. Callers hold mu.
func (n *Node) setDuty(duty uint8) {
	n.duty = duty
	if err := n.actuators.SetDuty(duty); err != nil {
		log.Printf("receiver: set duty %d: %v", duty, err)
	}
}

// Alert reports whether the alert is latched.
func (n *Node) Alert() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mon.State() == logic.AlertActive
}

// Duty returns the duty value last written to the actuators.
func (n *Node) Duty() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.duty
}

// Counts returns the node's counters.
func (n *Node) Counts() logic.Counts {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.mon.Counts()
	c.BusReadErrors = int(n.busErrors.Load())
	return c
}

func (n *Node) publish(e logic.Event) {
	if n.pub == nil {
		return
	}
	e.Node = NodeName
	if err := n.pub.Publish(e); err != nil {
		log.Printf("receiver: publish %s: %v", e.Type, err)
	}
}

func (n *Node) report() {
	if n.tracker == nil {
		return
	}
	n.mu.Lock()
	st := status.ReceiverState{
		Armed:       n.mon.Enabled(),
		Alert:       n.mon.State(),
		Delta:       n.mon.LastDelta(),
		Duty:        n.duty,
		LastCapture: n.mon.LastCapture(),
	}
	c := n.mon.Counts()
	n.mu.Unlock()
	n.tracker.SetReceiver(st)
	n.tracker.MergeCounts(c)
}
