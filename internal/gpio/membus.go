package gpio

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemBus is an in-process parallel bus: a single byte cell with
// last-write-wins semantics. It can raise edge callbacks when a chosen bit
// goes from 0 to 1, standing in for a capture line wired to that bus bit.
type MemBus struct {
	v      atomic.Uint32
	writes atomic.Int64

	mu    sync.Mutex
	rises map[int][]func()
}

// NewMemBus creates an empty bus reading 0x00.
func NewMemBus() *MemBus {
	return &MemBus{rises: make(map[int][]func())}
}

// WriteByte stores c and fires rising-edge callbacks for bits that went 0 to 1.
func (b *MemBus) WriteByte(c byte) error {
	prev := byte(b.v.Swap(uint32(c)))
	b.writes.Add(1)

	rose := ^prev & c
	if rose == 0 {
		return nil
	}
	b.mu.Lock()
	var fire []func()
	for bit, fns := range b.rises {
		if rose&(1<<bit) != 0 {
			fire = append(fire, fns...)
		}
	}
	b.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
	return nil
}

// ReadByte returns the last byte written.
func (b *MemBus) ReadByte() (byte, error) {
	return byte(b.v.Load()), nil
}

// Writes returns the number of writes so far.
func (b *MemBus) Writes() int64 {
	return b.writes.Load()
}

// OnRisingEdge registers fn to run, on the writer's goroutine, whenever bit rises.
func (b *MemBus) OnRisingEdge(bit int, fn func()) {
	b.mu.Lock()
	b.rises[bit] = append(b.rises[bit], fn)
	b.mu.Unlock()
}

// Close is a no-op.
func (b *MemBus) Close() error { return nil }

// BusCapture is a CaptureLine fed by a rising bit on a MemBus.
type BusCapture struct {
	bus   *MemBus
	bit   int
	clock func() time.Duration

	mu      sync.Mutex
	handler func(ts time.Duration)
}

// NewBusCapture watches bit on bus, stamping edges with clock().
func NewBusCapture(bus *MemBus, bit int, clock func() time.Duration) *BusCapture {
	c := &BusCapture{bus: bus, bit: bit, clock: clock}
	bus.OnRisingEdge(bit, c.edge)
	return c
}

// Watch starts delivery to handler.
func (c *BusCapture) Watch(handler func(ts time.Duration)) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return nil
}

func (c *BusCapture) edge() {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(c.clock())
	}
}

// Close stops delivery.
func (c *BusCapture) Close() error {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}
