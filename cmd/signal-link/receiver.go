package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/signal-link/internal/config"
	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/pwm"
	"github.com/sweeney/signal-link/internal/receiver"
	"github.com/sweeney/signal-link/internal/status"
	"github.com/sweeney/signal-link/internal/ticks"
)

func newReceiverCmd(opts *options) *cobra.Command {
	var threshold uint16
	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "Run the receiving node",
		Long: `Latches the bus on every rising edge of the capture line, drives both
actuators from the received level, and raises the alert line when no capture
arrives within the threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				if threshold == 0 {
					return fmt.Errorf("--threshold must be positive")
				}
				cfg.Receiver.Threshold = threshold
			}
			return runReceiver(cfg)
		},
	}
	cmd.Flags().Uint16Var(&threshold, "threshold", 0, "Alert threshold in ticks (overrides config)")
	return cmd
}

func runReceiver(cfg *config.Config) error {
	g := cfg.GPIO
	bus, err := gpio.NewRealBus(g.Chip, g.Bus, false)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer bus.Close()
	alert, err := gpio.NewRealOutput(g.Chip, g.Alert)
	if err != nil {
		return fmt.Errorf("init alert line: %w", err)
	}
	defer alert.Close()
	capture := gpio.NewRealCapture(g.Chip, g.Capture)
	defer capture.Close()

	freq := physic.Frequency(cfg.Receiver.PWMHz) * physic.Hertz
	var actuators pwm.Pair
	for i, name := range cfg.Receiver.PWM {
		ch, err := pwm.OpenPin(name, freq)
		if err != nil {
			return fmt.Errorf("init actuator %d: %w", i, err)
		}
		defer ch.Close()
		actuators[i] = ch
	}

	pub := publisherFor(cfg, receiver.NodeName)
	tracker := status.NewTracker(time.Now(), receiverStatusConfig(cfg))
	counter := ticks.NewMonotonic(cfg.Receiver.TickPeriod.D())
	node := receiver.New(cfg.ReceiverConfig(), capture, bus, counter, alert, actuators, eventPublisher(pub), tracker)

	log.Printf("started: node=receiver threshold=%d ticks (%v) broker=%s heartbeat=%v",
		cfg.Receiver.Threshold, cfg.ThresholdDuration(), cfg.MQTT.Broker, cfg.Heartbeat.D())
	return serve(cfg, pub, tracker, node.Run)
}

func receiverStatusConfig(cfg *config.Config) status.Config {
	sc := baseStatusConfig(cfg, receiver.NodeName)
	sc.DiagPollUs = cfg.Receiver.DiagPoll.D().Microseconds()
	sc.TickPeriodNs = cfg.Receiver.TickPeriod.D().Nanoseconds()
	sc.ThresholdTicks = cfg.Receiver.Threshold
	return sc
}
