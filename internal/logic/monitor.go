package logic

import "time"

// Monitor tracks the receiving node's diagnostic state: the last capture
// time, the latched alert, and counters. It is driven by two inputs:
// Capture (one per capture event) and Check (one per diagnostic poll).
type Monitor struct {
	threshold uint16
	enabled   bool
	last      uint16
	lastDelta uint16
	state     AlertState
	raisedAt  time.Time
	counts    Counts
}

// CaptureResult is the outcome of servicing one capture event.
type CaptureResult struct {
	// Duty is the value to drive onto both actuator channels.
	Duty uint8
	// Cleared is non-nil when this capture ended an active alert.
	Cleared *Event
}

// NewMonitor creates a monitor that alerts when the gap between captures
// exceeds threshold ticks.
func NewMonitor(threshold uint16) *Monitor {
	return &Monitor{
		threshold: threshold,
		state:     AlertNominal,
	}
}

// Capture services one capture event. The alert is cleared before the
// duty value is derived, and it is cleared unconditionally.
func (m *Monitor) Capture(ev CaptureEvent, at time.Time) CaptureResult {
	var res CaptureResult
	if m.state == AlertActive {
		m.counts.AlertClears++
		res.Cleared = &Event{
			Timestamp: at,
			Type:      EventAlertCleared,
			Delta:     TimeDelta(ev.Timestamp, m.last),
			AlertFor:  at.Sub(m.raisedAt),
		}
	}
	m.state = AlertNominal
	m.last = ev.Timestamp
	m.enabled = true

	res.Duty = DutyCycle(ev.Bus)
	m.counts.Captures++
	if res.Cleared != nil {
		res.Cleared.Duty = res.Duty
		res.Cleared.Level = Frame(ev.Bus).Level()
	}
	return res
}

// Check evaluates the gap between now and the last capture. It returns an
// ALERT_RAISED event on the Nominal to Alert transition and nil otherwise.
// Before the first capture and while an alert is latched it does nothing.
func (m *Monitor) Check(now uint16, at time.Time) *Event {
	if !m.enabled || m.state == AlertActive {
		return nil
	}
	d := TimeDelta(now, m.last)
	m.lastDelta = d
	if d <= m.threshold {
		return nil
	}
	m.state = AlertActive
	m.raisedAt = at
	m.counts.Alerts++
	return &Event{
		Timestamp: at,
		Type:      EventAlertRaised,
		Delta:     d,
	}
}

// Overrun records a capture event that was overwritten before being serviced.
func (m *Monitor) Overrun() {
	m.counts.Overruns++
}

// State returns the current alert state.
func (m *Monitor) State() AlertState {
	return m.state
}

// Enabled reports whether at least one capture has been serviced.
func (m *Monitor) Enabled() bool {
	return m.enabled
}

// LastCapture returns the counter value recorded by the last capture.
func (m *Monitor) LastCapture() uint16 {
	return m.last
}

// LastDelta returns the gap computed by the most recent Check.
func (m *Monitor) LastDelta() uint16 {
	return m.lastDelta
}

// Counts returns a copy of the counters.
func (m *Monitor) Counts() Counts {
	return m.counts
}
