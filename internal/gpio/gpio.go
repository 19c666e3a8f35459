// Package gpio provides digital line access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware, and MemBus
// links two nodes inside one process.
package gpio

import "time"

// Input reads a single digital line.
type Input interface {
	// Value returns true when the line is high.
	Value() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single digital line.
type Output interface {
	// Set drives the line high (true) or low (false).
	Set(on bool) error

	Close() error
}

// BusWriter writes one byte onto the parallel bus. Last write wins.
type BusWriter interface {
	WriteByte(b byte) error
}

// BusReader samples the current byte on the parallel bus.
type BusReader interface {
	ReadByte() (byte, error)
}

// CaptureLine delivers rising edges of a line.
type CaptureLine interface {
	// Watch starts edge delivery. The handler runs on the delivery goroutine
	// and receives the edge's monotonic timestamp; it must return quickly.
	Watch(handler func(ts time.Duration)) error

	Close() error
}

// BusWidth is the number of lines on the parallel bus.
const BusWidth = 8

// Default line offsets (BCM numbering) on gpiochip0.
const (
	DefaultChip = "gpiochip0"

	DefaultPinTrigger = 17
	DefaultPinFault   = 27
	DefaultPinCapture = 4
	DefaultPinAlert   = 22
)

// DefaultBusPins maps bus bit 0..7 to BCM offsets. Bit 7 carries the clock.
var DefaultBusPins = []int{5, 6, 13, 19, 26, 16, 20, 21}

// Consumer is the label the kernel shows for lines held by this process.
const Consumer = "signal-link"
