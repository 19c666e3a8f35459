package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Node          string        `json:"node"`
	Sampler       *SamplerJSON  `json:"sampler,omitempty"`
	Receiver      *ReceiverJSON `json:"receiver,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"counts"`
	Config        ConfigJSON    `json:"config"`
}

// SamplerJSON is the JSON representation of the sampling node's state.
type SamplerJSON struct {
	Armed bool  `json:"armed"`
	Raw   int   `json:"raw"`
	Level uint8 `json:"level"`
	Frame uint8 `json:"frame"`
	Fault bool  `json:"fault"`
}

// ReceiverJSON is the JSON representation of the receiving node's state.
type ReceiverJSON struct {
	Armed       bool   `json:"armed"`
	Alert       string `json:"alert"`
	DeltaTicks  uint16 `json:"delta_ticks"`
	Duty        uint8  `json:"duty"`
	LastCapture uint16 `json:"last_capture"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of counters.
type CountsJSON struct {
	Samples     int `json:"samples"`
	Faults      int `json:"faults"`
	Timeouts    int `json:"timeouts"`
	Frames      int `json:"frames"`
	Captures    int `json:"captures"`
	Overruns    int `json:"overruns"`
	Alerts      int `json:"alerts"`
	AlertClears int `json:"alert_clears"`

	BusWriteErrors int `json:"bus_write_errors"`
	BusReadErrors  int `json:"bus_read_errors"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	TxPeriodUs     int64  `json:"tx_period_us,omitempty"`
	DiagPollUs     int64  `json:"diag_poll_us,omitempty"`
	TickPeriodNs   int64  `json:"tick_period_ns,omitempty"`
	ThresholdTicks uint16 `json:"threshold_ticks,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Counts
	inner := StatusInner{
		Node:          snap.Config.Node,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Samples:     c.Samples,
			Faults:      c.Faults,
			Timeouts:    c.Timeouts,
			Frames:      c.Frames,
			Captures:    c.Captures,
			Overruns:    c.Overruns,
			Alerts:      c.Alerts,
			AlertClears: c.AlertClears,

			BusWriteErrors: c.BusWriteErrors,
			BusReadErrors:  c.BusReadErrors,
		},
		Config: ConfigJSON{
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			TxPeriodUs:     snap.Config.TxPeriodUs,
			DiagPollUs:     snap.Config.DiagPollUs,
			TickPeriodNs:   snap.Config.TickPeriodNs,
			ThresholdTicks: snap.Config.ThresholdTicks,
		},
	}
	if s := snap.Sampler; s != nil {
		inner.Sampler = &SamplerJSON{
			Armed: s.Armed,
			Raw:   int(s.Raw),
			Level: uint8(s.Level),
			Frame: uint8(s.Frame),
			Fault: s.Fault,
		}
	}
	if r := snap.Receiver; r != nil {
		alert := string(r.Alert)
		if alert == "" {
			alert = "UNKNOWN"
		}
		inner.Receiver = &ReceiverJSON{
			Armed:       r.Armed,
			Alert:       alert,
			DeltaTicks:  r.Delta,
			Duty:        r.Duty,
			LastCapture: r.LastCapture,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
