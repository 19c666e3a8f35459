// Package pwm drives the receiving node's actuator channels. A channel
// accepts an 8-bit duty value where 255 is fully on.
package pwm

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Channel is one duty-cycle output.
type Channel interface {
	SetDuty(duty uint8) error
}

// DefaultFrequency is the servo frame rate the duty values are scaled for.
const DefaultFrequency = 50 * physic.Hertz

// PinChannel drives a periph.io gpio pin in PWM mode.
type PinChannel struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

// OpenPin looks up a pin by name (e.g. "GPIO12") after registering host drivers.
func OpenPin(name string, freq physic.Frequency) (*PinChannel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pwm pin %q not found", name)
	}
	if freq == 0 {
		freq = DefaultFrequency
	}
	return &PinChannel{pin: p, freq: freq}, nil
}

// SetDuty maps duty 0..255 onto the pin's full duty range.
func (c *PinChannel) SetDuty(duty uint8) error {
	d := gpio.Duty(int64(duty) * int64(gpio.DutyMax) / 255)
	if err := c.pin.PWM(d, c.freq); err != nil {
		return fmt.Errorf("set duty on %s: %w", c.pin.Name(), err)
	}
	return nil
}

// Close stops the PWM output and drives the pin low.
func (c *PinChannel) Close() error {
	if err := c.pin.Halt(); err != nil {
		return fmt.Errorf("halt %s: %w", c.pin.Name(), err)
	}
	return c.pin.Out(gpio.Low)
}

// Pair drives two channels with the same value.
type Pair [2]Channel

// SetDuty writes duty to both channels, attempting both even if one fails.
func (p Pair) SetDuty(duty uint8) error {
	var errs []error
	for i, ch := range p {
		if ch == nil {
			continue
		}
		if err := ch.SetDuty(duty); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// FakeChannel records every duty value for tests. It grows without bound.
type FakeChannel struct {
	mu     sync.Mutex
	values []uint8

	// SetError, if set, will be returned by SetDuty().
	SetError error
}

// SetDuty records duty.
func (f *FakeChannel) SetDuty(duty uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.values = append(f.values, duty)
	return nil
}

// Last returns the most recent duty and whether any was set.
func (f *FakeChannel) Last() (uint8, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0, false
	}
	return f.values[len(f.values)-1], true
}

// Values returns a copy of every duty set so far.
func (f *FakeChannel) Values() []uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint8(nil), f.values...)
}
