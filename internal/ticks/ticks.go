// Package ticks models the receiving node's 16-bit free-running counter.
//
// The counter value is the monotonic clock divided by a tick period, truncated
// to 16 bits. Edge timestamps from the capture line are converted with the
// same rule, so captured and polled values are directly comparable.
package ticks

import (
	"sync/atomic"
	"time"
)

// DefaultPeriod gives a 1 MHz counter: 20000 ticks is 20ms and the counter
// wraps every 65.536ms.
const DefaultPeriod = time.Microsecond

// Counter is a free-running 16-bit counter.
type Counter interface {
	// Now returns the current counter value.
	Now() uint16

	// At converts a monotonic timestamp to a counter value.
	At(ts time.Duration) uint16
}

// Monotonic reads the system monotonic clock.
type Monotonic struct {
	period time.Duration
}

// NewMonotonic creates a counter advancing once per period.
// A non-positive period selects DefaultPeriod.
func NewMonotonic(period time.Duration) *Monotonic {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Monotonic{period: period}
}

// Now returns the counter value for the current monotonic time.
func (m *Monotonic) Now() uint16 {
	return m.At(monotonicNow())
}

// At converts ts to a counter value.
func (m *Monotonic) At(ts time.Duration) uint16 {
	return uint16(uint64(ts / m.period))
}

// Elapsed returns the current monotonic timestamp, on the clock used for
// capture edges.
func (m *Monotonic) Elapsed() time.Duration {
	return monotonicNow()
}

// Manual is a counter that only moves when told to. For tests.
type Manual struct {
	v      atomic.Uint32
	period time.Duration
}

// NewManual creates a manual counter at start. At divides by period
// (DefaultPeriod if non-positive).
func NewManual(start uint16, period time.Duration) *Manual {
	if period <= 0 {
		period = DefaultPeriod
	}
	m := &Manual{period: period}
	m.v.Store(uint32(start))
	return m
}

// Now returns the current value.
func (m *Manual) Now() uint16 {
	return uint16(m.v.Load())
}

// Set moves the counter to v.
func (m *Manual) Set(v uint16) {
	m.v.Store(uint32(v))
}

// Advance moves the counter forward by n ticks, wrapping at 16 bits.
func (m *Manual) Advance(n uint16) {
	for {
		old := m.v.Load()
		if m.v.CompareAndSwap(old, uint32(uint16(old)+n)) {
			return
		}
	}
}

// At converts ts to a counter value.
func (m *Manual) At(ts time.Duration) uint16 {
	return uint16(uint64(ts / m.period))
}
