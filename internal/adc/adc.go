// Package adc implements the sampling node's acquisition channel: start a
// conversion, poll for completion with a bounded wait, settle, then read the
// signed result.
package adc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/signal-link/internal/logic"
)

// ErrConversionTimeout is returned when the converter stays busy past the
// conversion timeout on every attempt.
var ErrConversionTimeout = errors.New("adc: conversion timeout")

// errBusy marks a single attempt that timed out.
var errBusy = errors.New("adc: converter busy")

// Converter is the register-level interface of the analog front end.
type Converter interface {
	// Trigger starts a conversion.
	Trigger() error

	// Done reports whether the last conversion has completed.
	Done() (bool, error)

	// Read returns the conversion result's most significant byte.
	Read() (int8, error)
}

// Config bounds the blocking behaviour of Sample.
type Config struct {
	// PollInterval is the delay between completion checks.
	PollInterval time.Duration
	// ConversionTimeout bounds one conversion attempt.
	ConversionTimeout time.Duration
	// SettleDelay is waited after completion, before reading.
	SettleDelay time.Duration
	// Retries is the number of extra attempts after a timed-out conversion.
	Retries int
}

// DefaultConfig returns the timing used on real hardware.
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Microsecond,
		ConversionTimeout: 10 * time.Millisecond,
		SettleDelay:       time.Millisecond,
		Retries:           2,
	}
}

// Channel samples one analog input.
type Channel struct {
	conv     Converter
	cfg      Config
	timeouts int
}

// NewChannel creates a channel over conv.
func NewChannel(conv Converter, cfg Config) *Channel {
	return &Channel{conv: conv, cfg: cfg}
}

// Sample performs one conversion and returns the MSB scaled by 256.
// A conversion that does not complete in time is retried up to cfg.Retries
// times before ErrConversionTimeout is returned.
func (c *Channel) Sample(ctx context.Context) (logic.RawSample, error) {
	attempts := c.cfg.Retries + 1
	for i := 0; i < attempts; i++ {
		raw, err := c.convert(ctx)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, errBusy) {
			return 0, err
		}
		c.timeouts++
	}
	return 0, fmt.Errorf("%w after %d attempts", ErrConversionTimeout, attempts)
}

// Timeouts returns the number of individual attempts that timed out.
func (c *Channel) Timeouts() int {
	return c.timeouts
}

func (c *Channel) convert(ctx context.Context) (logic.RawSample, error) {
	if err := c.conv.Trigger(); err != nil {
		return 0, fmt.Errorf("trigger conversion: %w", err)
	}

	deadline := time.Now().Add(c.cfg.ConversionTimeout)
	for {
		done, err := c.conv.Done()
		if err != nil {
			return 0, fmt.Errorf("read status: %w", err)
		}
		if done {
			break
		}
		if !time.Now().Before(deadline) {
			return 0, errBusy
		}
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			return 0, err
		}
	}

	if err := sleep(ctx, c.cfg.SettleDelay); err != nil {
		return 0, err
	}
	msb, err := c.conv.Read()
	if err != nil {
		return 0, fmt.Errorf("read result: %w", err)
	}
	return logic.RawSample(int(msb) * 256), nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
