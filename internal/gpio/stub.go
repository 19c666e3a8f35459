//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealInput is not available on non-Linux platforms.
type RealInput struct{}

// NewRealInput returns an error on non-Linux platforms.
func NewRealInput(chip string, pin int) (*RealInput, error) { return nil, errUnsupported }

func (r *RealInput) Value() (bool, error) { return false, errUnsupported }
func (r *RealInput) Close() error         { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chip string, pin int) (*RealOutput, error) { return nil, errUnsupported }

func (r *RealOutput) Set(on bool) error { return errUnsupported }
func (r *RealOutput) Close() error      { return nil }

// RealBus is not available on non-Linux platforms.
type RealBus struct{}

// NewRealBus returns an error on non-Linux platforms.
func NewRealBus(chip string, pins []int, output bool) (*RealBus, error) {
	return nil, errUnsupported
}

func (b *RealBus) WriteByte(c byte) error  { return errUnsupported }
func (b *RealBus) ReadByte() (byte, error) { return 0, errUnsupported }
func (b *RealBus) Close() error            { return nil }

// RealCapture is not available on non-Linux platforms.
type RealCapture struct{}

// NewRealCapture returns a capture line whose Watch always fails.
func NewRealCapture(chip string, pin int) *RealCapture { return &RealCapture{} }

func (c *RealCapture) Watch(handler func(ts time.Duration)) error { return errUnsupported }
func (c *RealCapture) Close() error                               { return nil }
