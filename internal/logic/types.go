// Package logic contains the pure protocol and state logic of the signal link.
// This package has NO external dependencies (no GPIO, ADC, MQTT, OS, or time.Sleep).
// Time is always injectable, either as time.Time or as 16-bit counter ticks.
package logic

import (
	"errors"
	"time"
)

// RawSample is a signed conversion result, the ADC MSB sign-extended and scaled by 256.
type RawSample int

// Level is a validated sample reduced to 5 bits.
type Level uint8

// Frame is the single byte written to the bus: clock bit in bit 7, level in bits 0-4.
type Frame byte

// Wire and range constants shared by both nodes.
const (
	ValidMin RawSample = -15000
	ValidMax RawSample = 15000

	LevelDivisor = 1024
	LevelOffset  = 16
	LevelMask    = 0x1F
	ClockMask    = 0x80

	// AlertThreshold is the largest tolerated gap between captures, in counter ticks.
	AlertThreshold uint16 = 20000

	DutyBase   = 4
	DutySpan   = 20
	DutyLevels = 32

	// InitialDuty is written to the actuators before the first capture.
	InitialDuty uint8 = 0x0D
)

// ErrOutOfRange is returned by Quantize for samples outside [ValidMin, ValidMax].
var ErrOutOfRange = errors.New("sample out of range")

// AlertState is the latched anomaly flag of the receiving node.
type AlertState string

const (
	AlertNominal AlertState = "NOMINAL"
	AlertActive  AlertState = "ALERT"
)

// EventType identifies an event worth publishing.
type EventType string

const (
	EventArmed              EventType = "ARMED"
	EventSampleOutOfRange   EventType = "SAMPLE_OUT_OF_RANGE"
	EventAcquisitionTimeout EventType = "ACQUISITION_TIMEOUT"
	EventAlertRaised        EventType = "ALERT_RAISED"
	EventAlertCleared       EventType = "ALERT_CLEARED"
)

// Event is a notable occurrence on either node.
// Fields that do not apply to the event type are left zero.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Node      string
	Raw       RawSample
	Level     Level
	Duty      uint8
	Delta     uint16
	// AlertFor is how long the alert was latched (ALERT_CLEARED only).
	AlertFor time.Duration
}

// CaptureEvent is what the capture interrupt observed: counter value and bus byte.
type CaptureEvent struct {
	Timestamp uint16
	Bus       byte
}

// Counts tracks the number of notable occurrences since startup.
type Counts struct {
	Samples     int
	Faults      int
	Timeouts    int
	Frames      int
	Captures    int
	Overruns    int
	Alerts      int
	AlertClears int

	BusWriteErrors int
	BusReadErrors  int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
