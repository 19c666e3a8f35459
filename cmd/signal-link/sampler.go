package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/signal-link/internal/adc"
	"github.com/sweeney/signal-link/internal/config"
	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/sampler"
	"github.com/sweeney/signal-link/internal/status"
)

func newSamplerCmd(opts *options) *cobra.Command {
	var (
		once     bool
		txPeriod time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sampler",
		Short: "Run the sampling node",
		Long: `Waits for a high-then-low pulse on the trigger line, then samples the
analog input continuously and writes one frame per transmit period onto the bus.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tx-period") {
				if txPeriod <= 0 {
					return fmt.Errorf("--tx-period must be positive")
				}
				cfg.Sampler.TxPeriod = config.Duration(txPeriod)
			}
			return runSampler(cfg, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Take one sample, print it and exit")
	cmd.Flags().DurationVar(&txPeriod, "tx-period", 0, "Transmit period (overrides config)")
	return cmd
}

func runSampler(cfg *config.Config, once bool) error {
	conv, err := adc.OpenI2C(cfg.Sampler.ADC.Bus, cfg.Sampler.ADC.Address, adc.DefaultRegisters)
	if err != nil {
		return fmt.Errorf("init adc: %w", err)
	}
	defer conv.Close()
	ch := adc.NewChannel(conv, cfg.ADCConfig())

	if once {
		return sampleOnce(context.Background(), ch, os.Stdout)
	}

	g := cfg.GPIO
	trigger, err := gpio.NewRealInput(g.Chip, g.Trigger)
	if err != nil {
		return fmt.Errorf("init trigger: %w", err)
	}
	defer trigger.Close()
	fault, err := gpio.NewRealOutput(g.Chip, g.Fault)
	if err != nil {
		return fmt.Errorf("init fault line: %w", err)
	}
	defer fault.Close()
	bus, err := gpio.NewRealBus(g.Chip, g.Bus, true)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer bus.Close()

	pub := publisherFor(cfg, sampler.NodeName)
	tracker := status.NewTracker(time.Now(), samplerStatusConfig(cfg))
	node := sampler.New(cfg.SamplerConfig(), ch, trigger, fault, bus, eventPublisher(pub), tracker)

	log.Printf("started: node=sampler tx=%v cooldown=%v broker=%s heartbeat=%v",
		cfg.Sampler.TxPeriod.D(), cfg.Sampler.FaultCooldown.D(), cfg.MQTT.Broker, cfg.Heartbeat.D())
	return serve(cfg, pub, tracker, node.Run)
}

func samplerStatusConfig(cfg *config.Config) status.Config {
	sc := baseStatusConfig(cfg, sampler.NodeName)
	sc.TxPeriodUs = cfg.Sampler.TxPeriod.D().Microseconds()
	return sc
}

// sampleOnce takes a single sample and prints it with the frame it would
// produce.
func sampleOnce(ctx context.Context, acq sampler.Acquirer, w io.Writer) error {
	raw, err := acq.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	lvl, err := logic.Quantize(raw)
	if errors.Is(err, logic.ErrOutOfRange) {
		fmt.Fprintf(w, "raw: %d (out of range [%d, %d])\n", raw, logic.ValidMin, logic.ValidMax)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "raw: %d, level: %d, frame: %#02x\n", raw, lvl, byte(logic.EncodeFrame(false, lvl)))
	return nil
}

// eventPublisher converts a possibly nil publisher to the interface without
// producing a typed nil.
func eventPublisher(pub *mqtt.RealPublisher) mqtt.Publisher {
	if pub == nil {
		return nil
	}
	return pub
}
