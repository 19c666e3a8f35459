package main

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/signal-link/internal/adc"
	"github.com/sweeney/signal-link/internal/config"
	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/pwm"
	"github.com/sweeney/signal-link/internal/receiver"
	"github.com/sweeney/signal-link/internal/sampler"
	"github.com/sweeney/signal-link/internal/status"
	"github.com/sweeney/signal-link/internal/ticks"
)

// simNode labels the publisher and status of a combined sim process.
const simNode = "sim"

// clockBit is the bus bit wired to the receiver's capture line.
const clockBit = 7

func newSimCmd(opts *options) *cobra.Command {
	var amplitude, step int
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run both nodes in one process over an in-memory bus",
		Long: `Runs the sampler and the receiver together. The analog input is a
triangle wave and the capture line follows the bus clock bit, so the whole
link can be exercised without hardware.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return runSim(cfg, amplitude, step)
		},
	}
	cmd.Flags().IntVar(&amplitude, "amplitude", 60, "Wave peak as a converter MSB (peaks above 58 fall out of range)")
	cmd.Flags().IntVar(&step, "step", 1, "Wave increment per sample")
	return cmd
}

func runSim(cfg *config.Config, amplitude, step int) error {
	pub := publisherFor(cfg, simNode)
	sc := baseStatusConfig(cfg, simNode)
	sc.TxPeriodUs = cfg.Sampler.TxPeriod.D().Microseconds()
	sc.DiagPollUs = cfg.Receiver.DiagPoll.D().Microseconds()
	sc.TickPeriodNs = cfg.Receiver.TickPeriod.D().Nanoseconds()
	sc.ThresholdTicks = cfg.Receiver.Threshold
	tracker := status.NewTracker(time.Now(), sc)

	link := newSimLink(cfg, adc.NewWaveConverter(amplitude, step), eventPublisher(pub), tracker)
	log.Printf("started: node=sim amplitude=%d step=%d tx=%v broker=%s", amplitude, step, cfg.Sampler.TxPeriod.D(), cfg.MQTT.Broker)
	return serve(cfg, pub, tracker, link.Run)
}

// simLink is a sampler and receiver joined by a MemBus whose clock bit
// drives the receiver's capture line.
type simLink struct {
	bus      *gpio.MemBus
	counter  *ticks.Monotonic
	fault    simLine
	alert    simLine
	left     *simChannel
	right    *simChannel
	sampler  *sampler.Node
	receiver *receiver.Node
}

func newSimLink(cfg *config.Config, conv adc.Converter, pub mqtt.Publisher, tracker *status.Tracker) *simLink {
	l := &simLink{
		bus:     gpio.NewMemBus(),
		counter: ticks.NewMonotonic(cfg.Receiver.TickPeriod.D()),
		fault:   simLine{name: "fault", FakeOutput: gpio.NewFakeOutput()},
		alert:   simLine{name: "alert", FakeOutput: gpio.NewFakeOutput()},
		left:    &simChannel{},
		right:   &simChannel{},
	}
	capture := gpio.NewBusCapture(l.bus, clockBit, l.counter.Elapsed)
	// The trigger line is pulsed once at startup.
	trigger := gpio.NewFakeInput(true, false)

	l.sampler = sampler.New(cfg.SamplerConfig(), adc.NewChannel(conv, cfg.ADCConfig()), trigger, l.fault, l.bus, pub, tracker)
	l.receiver = receiver.New(cfg.ReceiverConfig(), capture, l.bus, l.counter, l.alert, pwm.Pair{l.left, l.right}, pub, tracker)
	return l
}

// Run runs both nodes until ctx is cancelled.
func (l *simLink) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.receiver.Run(gctx) })
	g.Go(func() error { return l.sampler.Run(gctx) })
	return g.Wait()
}

// Counts merges both nodes' counters.
func (l *simLink) Counts() logic.Counts {
	s, r := l.sampler.Counts(), l.receiver.Counts()
	r.Samples, r.Faults, r.Timeouts, r.Frames = s.Samples, s.Faults, s.Timeouts, s.Frames
	r.BusWriteErrors = s.BusWriteErrors
	return r
}

// simLine is a simulated output line that logs every change.
type simLine struct {
	name string
	*gpio.FakeOutput
}

func (s simLine) Set(on bool) error {
	state := "low"
	if on {
		state = "high"
	}
	log.Printf("sim: %s line %s", s.name, state)
	return s.FakeOutput.Set(on)
}

// simChannel is a simulated actuator. It keeps only the latest duty so a
// long-running sim does not grow with every capture.
type simChannel struct {
	duty atomic.Uint32 // duty | dutySet once written
}

const dutySet = 1 << 8

func (c *simChannel) SetDuty(duty uint8) error {
	c.duty.Store(uint32(duty) | dutySet)
	return nil
}

// Last returns the most recent duty and whether any was set.
func (c *simChannel) Last() (uint8, bool) {
	v := c.duty.Load()
	return uint8(v), v&dutySet != 0
}
