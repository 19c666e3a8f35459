// Package config loads the signal-link configuration file.
//
// Every field has a default, so an empty or missing file is valid. Values
// from the file are laid over the defaults and command-line flags are laid
// over the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/signal-link/internal/adc"
	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/receiver"
	"github.com/sweeney/signal-link/internal/sampler"
	"github.com/sweeney/signal-link/internal/ticks"
)

// Duration is a time.Duration written as a string ("1ms", "15m") in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the root of the configuration file.
type Config struct {
	MQTT      MQTT     `yaml:"mqtt"`
	HTTP      HTTP     `yaml:"http"`
	Heartbeat Duration `yaml:"heartbeat"`
	GPIO      GPIO     `yaml:"gpio"`
	Sampler   Sampler  `yaml:"sampler"`
	Receiver  Receiver `yaml:"receiver"`
}

// MQTT holds broker settings. An empty broker disables publishing.
type MQTT struct {
	Broker string `yaml:"broker"`
}

// HTTP holds the status server settings. An empty address disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// GPIO maps logical lines to offsets on one chip.
type GPIO struct {
	Chip    string `yaml:"chip"`
	Trigger int    `yaml:"trigger"`
	Fault   int    `yaml:"fault"`
	Capture int    `yaml:"capture"`
	Alert   int    `yaml:"alert"`
	Bus     []int  `yaml:"bus"`
}

// Sampler holds the sampling node's settings.
type Sampler struct {
	TxPeriod      Duration `yaml:"tx_period"`
	FaultCooldown Duration `yaml:"fault_cooldown"`
	TriggerPoll   Duration `yaml:"trigger_poll"`
	ADC           ADC      `yaml:"adc"`
}

// ADC holds the converter location and timing.
type ADC struct {
	Bus               string   `yaml:"bus"`
	Address           uint16   `yaml:"address"`
	PollInterval      Duration `yaml:"poll_interval"`
	ConversionTimeout Duration `yaml:"conversion_timeout"`
	SettleDelay       Duration `yaml:"settle_delay"`
	Retries           int      `yaml:"retries"`
}

// Receiver holds the receiving node's settings.
type Receiver struct {
	DiagPoll   Duration `yaml:"diag_poll"`
	TickPeriod Duration `yaml:"tick_period"`
	Threshold  uint16   `yaml:"threshold_ticks"`
	PWM        []string `yaml:"pwm"`
	PWMHz      int      `yaml:"pwm_hz"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sc := sampler.DefaultConfig()
	rc := receiver.DefaultConfig()
	ac := adc.DefaultConfig()
	return &Config{
		MQTT:      MQTT{Broker: "tcp://localhost:1883"},
		HTTP:      HTTP{Addr: ":8080"},
		Heartbeat: Duration(15 * time.Minute),
		GPIO: GPIO{
			Chip:    gpio.DefaultChip,
			Trigger: gpio.DefaultPinTrigger,
			Fault:   gpio.DefaultPinFault,
			Capture: gpio.DefaultPinCapture,
			Alert:   gpio.DefaultPinAlert,
			Bus:     append([]int(nil), gpio.DefaultBusPins...),
		},
		Sampler: Sampler{
			TxPeriod:      Duration(sc.TxPeriod),
			FaultCooldown: Duration(sc.FaultCooldown),
			TriggerPoll:   Duration(sc.TriggerPoll),
			ADC: ADC{
				Bus:               "1",
				Address:           0x48,
				PollInterval:      Duration(ac.PollInterval),
				ConversionTimeout: Duration(ac.ConversionTimeout),
				SettleDelay:       Duration(ac.SettleDelay),
				Retries:           ac.Retries,
			},
		},
		Receiver: Receiver{
			DiagPoll:   Duration(rc.DiagPoll),
			TickPeriod: Duration(ticks.DefaultPeriod),
			Threshold:  rc.Threshold,
			PWM:        []string{"GPIO12", "GPIO13"},
			PWMHz:      50,
		},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d.D()))
		}
	}
	positive("sampler.tx_period", c.Sampler.TxPeriod)
	positive("sampler.trigger_poll", c.Sampler.TriggerPoll)
	positive("sampler.adc.poll_interval", c.Sampler.ADC.PollInterval)
	positive("sampler.adc.conversion_timeout", c.Sampler.ADC.ConversionTimeout)
	positive("receiver.diag_poll", c.Receiver.DiagPoll)
	positive("receiver.tick_period", c.Receiver.TickPeriod)
	if c.Sampler.FaultCooldown < 0 {
		errs = append(errs, errors.New("sampler.fault_cooldown must not be negative"))
	}
	if c.Sampler.ADC.SettleDelay < 0 {
		errs = append(errs, errors.New("sampler.adc.settle_delay must not be negative"))
	}
	if c.Sampler.ADC.Retries < 0 {
		errs = append(errs, errors.New("sampler.adc.retries must not be negative"))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, errors.New("heartbeat must not be negative"))
	}
	if c.Receiver.Threshold == 0 {
		errs = append(errs, errors.New("receiver.threshold_ticks must be positive"))
	}
	if len(c.Receiver.PWM) != 2 {
		errs = append(errs, fmt.Errorf("receiver.pwm needs 2 pins, got %d", len(c.Receiver.PWM)))
	}
	if c.Receiver.PWMHz <= 0 {
		errs = append(errs, errors.New("receiver.pwm_hz must be positive"))
	}
	if err := c.GPIO.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (g GPIO) validate() error {
	if g.Chip == "" {
		return errors.New("gpio.chip must be set")
	}
	if len(g.Bus) != gpio.BusWidth {
		return fmt.Errorf("gpio.bus needs %d pins, got %d", gpio.BusWidth, len(g.Bus))
	}
	seen := make(map[int]string)
	check := func(name string, pin int) error {
		if pin < 0 {
			return fmt.Errorf("gpio.%s: negative offset %d", name, pin)
		}
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("gpio.%s: offset %d already used by %s", name, pin, other)
		}
		seen[pin] = name
		return nil
	}
	for i, pin := range g.Bus {
		if err := check(fmt.Sprintf("bus[%d]", i), pin); err != nil {
			return err
		}
	}
	for _, l := range []struct {
		name string
		pin  int
	}{{"trigger", g.Trigger}, {"fault", g.Fault}, {"capture", g.Capture}, {"alert", g.Alert}} {
		if err := check(l.name, l.pin); err != nil {
			return err
		}
	}
	return nil
}

// SamplerConfig returns the sampling node's timing.
func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{
		TxPeriod:      c.Sampler.TxPeriod.D(),
		FaultCooldown: c.Sampler.FaultCooldown.D(),
		TriggerPoll:   c.Sampler.TriggerPoll.D(),
	}
}

// ADCConfig returns the acquisition channel's timing.
func (c *Config) ADCConfig() adc.Config {
	a := c.Sampler.ADC
	return adc.Config{
		PollInterval:      a.PollInterval.D(),
		ConversionTimeout: a.ConversionTimeout.D(),
		SettleDelay:       a.SettleDelay.D(),
		Retries:           a.Retries,
	}
}

// ReceiverConfig returns the receiving node's timing.
func (c *Config) ReceiverConfig() receiver.Config {
	return receiver.Config{
		DiagPoll:  c.Receiver.DiagPoll.D(),
		Threshold: c.Receiver.Threshold,
	}
}

// ThresholdDuration returns the alert threshold as wall time.
func (c *Config) ThresholdDuration() time.Duration {
	return time.Duration(c.Receiver.Threshold) * c.Receiver.TickPeriod.D()
}
