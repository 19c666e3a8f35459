// Package status provides a thread-safe status tracker for the signal-link daemon.
// It is read by HTTP handlers and by lifecycle MQTT events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/signal-link/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Node           string
	Broker         string
	HTTPAddr       string
	HeartbeatMs    int64
	TxPeriodUs     int64  // sampler only
	DiagPollUs     int64  // receiver only
	TickPeriodNs   int64  // receiver only
	ThresholdTicks uint16 // receiver only
}

// SamplerState is the sampling node's view.
type SamplerState struct {
	Armed bool
	Raw   logic.RawSample
	Level logic.Level
	Frame logic.Frame
	Fault bool
}

// ReceiverState is the receiving node's view.
type ReceiverState struct {
	Armed       bool
	Alert       logic.AlertState
	Delta       uint16
	Duty        uint8
	LastCapture uint16
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Sampler       *SamplerState
	Receiver      *ReceiverState
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetSampler records the sampling node's state.
func (t *Tracker) SetSampler(s SamplerState) {
	t.mu.Lock()
	t.snap.Sampler = &s
	t.mu.Unlock()
}

// SetReceiver records the receiving node's state.
func (t *Tracker) SetReceiver(r ReceiverState) {
	t.mu.Lock()
	t.snap.Receiver = &r
	t.mu.Unlock()
}

// MergeCounts copies the non-zero fields of c into the tracked counts. Each
// node owns a disjoint set of counters, so a process running both nodes can
// report them together.
func (t *Tracker) MergeCounts(c logic.Counts) {
	t.mu.Lock()
	merge(&t.snap.Counts.Samples, c.Samples)
	merge(&t.snap.Counts.Faults, c.Faults)
	merge(&t.snap.Counts.Timeouts, c.Timeouts)
	merge(&t.snap.Counts.Frames, c.Frames)
	merge(&t.snap.Counts.Captures, c.Captures)
	merge(&t.snap.Counts.Overruns, c.Overruns)
	merge(&t.snap.Counts.Alerts, c.Alerts)
	merge(&t.snap.Counts.AlertClears, c.AlertClears)
	merge(&t.snap.Counts.BusWriteErrors, c.BusWriteErrors)
	merge(&t.snap.Counts.BusReadErrors, c.BusReadErrors)
	t.mu.Unlock()
}

func merge(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Sampler != nil {
		cp := *s.Sampler
		s.Sampler = &cp
	}
	if s.Receiver != nil {
		cp := *s.Receiver
		s.Receiver = &cp
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
