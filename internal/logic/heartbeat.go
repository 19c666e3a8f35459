package logic

import "time"

// Heartbeat decides when a periodic liveness report is due.
type Heartbeat struct {
	startTime time.Time
	last      time.Time
}

// NewHeartbeat creates a heartbeat schedule starting at startTime.
func NewHeartbeat(startTime time.Time) *Heartbeat {
	return &Heartbeat{startTime: startTime, last: startTime}
}

// Check returns heartbeat data if the interval has elapsed since the last
// heartbeat (or startup). Returns nil if the interval has not elapsed, or if
// interval is <= 0 (disabled).
func (h *Heartbeat) Check(now time.Time, interval time.Duration, counts Counts) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(h.last) < interval {
		return nil
	}
	h.last = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(h.startTime),
		Counts:    counts,
	}
}
