package receiver

import (
	"sync"

	"github.com/sweeney/signal-link/internal/logic"
)

// Inbox is a single-slot mailbox between the capture handler and the
// capture service. A post while the previous event is still pending
// overwrites it and counts an overrun.
type Inbox struct {
	mu       sync.Mutex
	ev       logic.CaptureEvent
	pending  bool
	overruns int
	ready    chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{ready: make(chan struct{}, 1)}
}

// Post stores ev and wakes the consumer. It never blocks. It reports whether
// a pending event was overwritten.
func (b *Inbox) Post(ev logic.CaptureEvent) (overrun bool) {
	b.mu.Lock()
	overrun = b.pending
	if overrun {
		b.overruns++
	}
	b.ev = ev
	b.pending = true
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return overrun
}

// Take removes the pending event, re-arming the slot.
func (b *Inbox) Take() (logic.CaptureEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pending {
		return logic.CaptureEvent{}, false
	}
	b.pending = false
	return b.ev, true
}

// Ready is signalled after a Post. Signals coalesce.
func (b *Inbox) Ready() <-chan struct{} {
	return b.ready
}

// Overruns returns the number of overwritten events.
func (b *Inbox) Overruns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}
