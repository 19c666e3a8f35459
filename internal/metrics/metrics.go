// Package metrics holds the Prometheus collectors for both nodes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signal_link"

var (
	// Sampling node.

	SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_total",
		Help:      "Acquired samples by result (ok, out_of_range, timeout).",
	}, []string{"result"})

	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_transmitted_total",
		Help:      "Frames written to the bus.",
	})

	BusWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_write_errors_total",
		Help:      "Failed bus writes.",
	})

	Level = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quantized_level",
		Help:      "Latest quantized level offered to the transmitter.",
	})

	// Receiving node.

	CapturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Capture events serviced.",
	})

	BusReadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_read_errors_total",
		Help:      "Bus reads that failed while servicing a capture edge.",
	})

	CaptureOverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_overruns_total",
		Help:      "Capture events overwritten before being serviced.",
	})

	AlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Nominal to alert transitions.",
	})

	AlertActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alert_active",
		Help:      "1 while the signal-absence alert is latched.",
	})

	TimeDelta = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "time_delta_ticks",
		Help:      "Ticks since the last capture at the latest diagnostic poll.",
	})

	Duty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "actuator_duty",
		Help:      "Duty value last written to the actuators.",
	})

	// Either node.

	MQTTDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_outbox_dropped_total",
		Help:      "Messages discarded from a full offline outbox, by kind (system, event).",
	}, []string{"kind"})
)
