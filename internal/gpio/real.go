//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealInput reads a line through the GPIO character device.
type RealInput struct {
	line *gpiocdev.Line
}

// NewRealInput requests pin on chip as an input with pull-down.
func NewRealInput(chip string, pin int) (*RealInput, error) {
	l, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", pin, err)
	}
	return &RealInput{line: l}, nil
}

// Value returns true when the line reads 1.
func (r *RealInput) Value() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin: %w", err)
	}
	return v == 1, nil
}

// Close reconfigures the line to input with pull-down (Pi boot default) and releases it.
func (r *RealInput) Close() error {
	return releaseLine(r.line)
}

// RealOutput drives a line through the GPIO character device.
type RealOutput struct {
	line *gpiocdev.Line
}

// NewRealOutput requests pin on chip as an output, initially low.
func NewRealOutput(chip string, pin int) (*RealOutput, error) {
	l, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	return &RealOutput{line: l}, nil
}

// Set drives the line.
func (r *RealOutput) Set(on bool) error {
	if err := r.line.SetValue(btoi(on)); err != nil {
		return fmt.Errorf("write pin: %w", err)
	}
	return nil
}

// Close drives the line low, then releases it as an input with pull-down.
func (r *RealOutput) Close() error {
	var errs []error
	if err := r.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive low: %w", err))
	}
	if err := releaseLine(r.line); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RealBus drives or samples the 8-line parallel bus.
type RealBus struct {
	lines  *gpiocdev.Lines
	output bool
	vals   []int
}

// NewRealBus requests pins (bit 0 first) on chip. The sampling node opens the
// bus as output, the receiving node as input.
func NewRealBus(chip string, pins []int, output bool) (*RealBus, error) {
	if len(pins) != BusWidth {
		return nil, fmt.Errorf("bus needs %d pins, got %d", BusWidth, len(pins))
	}
	var dir gpiocdev.LineReqOption = gpiocdev.AsInput
	if output {
		dir = gpiocdev.AsOutput(make([]int, BusWidth)...)
	}
	lines, err := gpiocdev.RequestLines(chip, pins, dir, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("request bus pins %v: %w", pins, err)
	}
	return &RealBus{lines: lines, output: output, vals: make([]int, BusWidth)}, nil
}

// WriteByte sets all bus lines in one request.
func (b *RealBus) WriteByte(c byte) error {
	if !b.output {
		return errors.New("gpio: bus opened as input")
	}
	for i := range b.vals {
		b.vals[i] = int(c>>i) & 1
	}
	if err := b.lines.SetValues(b.vals); err != nil {
		return fmt.Errorf("write bus: %w", err)
	}
	return nil
}

// ReadByte samples all bus lines in one request.
func (b *RealBus) ReadByte() (byte, error) {
	vals := make([]int, BusWidth)
	if err := b.lines.Values(vals); err != nil {
		return 0, fmt.Errorf("read bus: %w", err)
	}
	var c byte
	for i, v := range vals {
		c |= byte(v&1) << i
	}
	return c, nil
}

// Close releases the bus lines.
func (b *RealBus) Close() error {
	if err := b.lines.Close(); err != nil {
		return fmt.Errorf("close bus: %w", err)
	}
	return nil
}

// RealCapture delivers rising edges detected by the kernel.
type RealCapture struct {
	chip string
	pin  int
	line *gpiocdev.Line
}

// NewRealCapture prepares pin on chip for edge capture. The line is
// requested by Watch.
func NewRealCapture(chip string, pin int) *RealCapture {
	return &RealCapture{chip: chip, pin: pin}
}

// Watch requests the line with rising-edge detection. Event timestamps are
// CLOCK_MONOTONIC, the same clock ticks.Monotonic reads.
func (c *RealCapture) Watch(handler func(ts time.Duration)) error {
	if c.line != nil {
		return errors.New("gpio: capture already watching")
	}
	l, err := gpiocdev.RequestLine(c.chip, c.pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer(Consumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Timestamp)
		}))
	if err != nil {
		return fmt.Errorf("request capture pin %d: %w", c.pin, err)
	}
	c.line = l
	return nil
}

// Close stops edge delivery and releases the line.
func (c *RealCapture) Close() error {
	if c.line == nil {
		return nil
	}
	err := c.line.Close()
	c.line = nil
	if err != nil {
		return fmt.Errorf("close capture pin %d: %w", c.pin, err)
	}
	return nil
}

// releaseLine leaves the pin as input with pull-down before closing, so
// attached hardware sees the boot-default state after shutdown.
func releaseLine(l *gpiocdev.Line) error {
	var errs []error
	if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
	}
	if err := l.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin: %w", err))
	}
	return errors.Join(errs...)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
