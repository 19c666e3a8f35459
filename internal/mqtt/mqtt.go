// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/signal-link/internal/logic"
)

// TopicPrefix is the root of every topic this daemon publishes.
const TopicPrefix = "signal-link"

// Topic returns the event topic for a node ("sampler" or "receiver").
func Topic(node string) string {
	return TopicPrefix + "/" + node + "/events"
}

// TopicSystem returns the lifecycle topic for a node.
func TopicSystem(node string) string {
	return TopicPrefix + "/" + node + "/system"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a link event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Link LinkPayload `json:"link"`
}

// LinkPayload contains the event details. Fields that do not apply to the
// event type are omitted.
type LinkPayload struct {
	Timestamp  string  `json:"timestamp"`
	Event      string  `json:"event"`
	Node       string  `json:"node,omitempty"`
	Raw        *int    `json:"raw,omitempty"`
	Level      *uint8  `json:"level,omitempty"`
	Duty       *uint8  `json:"duty,omitempty"`
	DeltaTicks *uint16 `json:"delta_ticks,omitempty"`
	AlertMs    *int64  `json:"alert_ms,omitempty"`
}

// FormatPayload creates the JSON payload for a link event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := LinkPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Node:      event.Node,
	}
	switch event.Type {
	case logic.EventSampleOutOfRange:
		raw := int(event.Raw)
		p.Raw = &raw
	case logic.EventAlertRaised:
		d := event.Delta
		p.DeltaTicks = &d
	case logic.EventAlertCleared:
		d, duty, lvl := event.Delta, event.Duty, uint8(event.Level)
		ms := event.AlertFor.Milliseconds()
		p.DeltaTicks, p.Duty, p.Level, p.AlertMs = &d, &duty, &lvl, &ms
	}
	return json.Marshal(Payload{Link: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
