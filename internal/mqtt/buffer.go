package mqtt

import (
	"log"

	"github.com/sweeney/signal-link/internal/metrics"
)

// Outbox shares, in messages, used by RealPublisher while the broker is away.
const (
	outboxSystemCap = 32
	outboxEventCap  = 224
)

// msgKind separates lifecycle messages from the link event stream so a burst
// of events cannot push a retained STARTUP or HEARTBEAT out of the outbox.
type msgKind int

const (
	kindEvent msgKind = iota
	kindSystem
)

func (k msgKind) String() string {
	if k == kindSystem {
		return "system"
	}
	return "event"
}

// pendingMsg is a publish that could not go out because the broker was unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m pendingMsg) kind() msgKind {
	if m.qos > 0 || m.retained {
		return kindSystem
	}
	return kindEvent
}

// fifo is a fixed-size queue that discards its oldest entry when full.
type fifo struct {
	items []pendingMsg
	head  int
	n     int
}

func newFIFO(capacity int) fifo {
	return fifo{items: make([]pendingMsg, capacity)}
}

// add enqueues m and reports whether an older entry was discarded to make room.
func (q *fifo) add(m pendingMsg) (dropped bool) {
	if len(q.items) == 0 {
		return true
	}
	if q.n == len(q.items) {
		q.items[q.head] = m
		q.head = (q.head + 1) % len(q.items)
		return true
	}
	q.items[(q.head+q.n)%len(q.items)] = m
	q.n++
	return false
}

func (q *fifo) appendTo(out []pendingMsg) []pendingMsg {
	for i := 0; i < q.n; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}
	q.head, q.n = 0, 0
	return out
}

// outbox holds messages published while disconnected. Lifecycle and event
// messages are queued separately; each queue drops its own oldest entry on
// overflow. Not safe for concurrent use.
type outbox struct {
	system fifo
	events fifo

	dropped [2]int
	warned  [2]bool
}

func newOutbox(systemCap, eventCap int) *outbox {
	return &outbox{
		system: newFIFO(systemCap),
		events: newFIFO(eventCap),
	}
}

func (o *outbox) push(m pendingMsg) {
	k := m.kind()
	q := &o.events
	if k == kindSystem {
		q = &o.system
	}
	if !q.add(m) {
		return
	}
	o.dropped[k]++
	metrics.MQTTDroppedTotal.WithLabelValues(k.String()).Inc()
	if !o.warned[k] {
		log.Printf("mqtt: outbox full, dropping oldest %s messages", k)
		o.warned[k] = true
	}
}

// drain empties the outbox. Lifecycle messages come first so the broker sees
// the node's state before the backlog of link events; each kind stays in
// publish order.
func (o *outbox) drain() []pendingMsg {
	if o.len() == 0 {
		return nil
	}
	out := make([]pendingMsg, 0, o.len())
	out = o.system.appendTo(out)
	out = o.events.appendTo(out)
	o.warned = [2]bool{}
	return out
}

func (o *outbox) len() int {
	return o.system.n + o.events.n
}

// droppedCounts returns how many system and event messages have been discarded since startup.
func (o *outbox) droppedCounts() (system, events int) {
	return o.dropped[kindSystem], o.dropped[kindEvent]
}
