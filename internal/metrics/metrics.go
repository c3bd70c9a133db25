// Package metrics exposes reporter counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/limit-reporter/internal/logic"
	"github.com/sweeney/limit-reporter/internal/protocol"
)

const namespace = "limit"

// Metrics holds the reporter's collectors in a private registry.
// It implements report.Observer.
type Metrics struct {
	registry *prometheus.Registry
	labels   prometheus.Labels

	frames      *prometheus.CounterVec
	writeErrors *prometheus.CounterVec
	ignored     prometheus.Counter
	stable      *prometheus.GaugeVec
	transitions *prometheus.GaugeVec
	commits     *prometheus.GaugeVec
	lastFrameTs prometheus.Gauge
	mqttDropped prometheus.Counter
}

// New creates and registers every collector for the given device id.
func New(deviceID string) *Metrics {
	labels := prometheus.Labels{"device": deviceID}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		labels:   labels,
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_total",
			Help:        "Frames written to the serial link, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frame_write_errors_total",
			Help:        "Frames the serial link failed to accept, by type.",
			ConstLabels: labels,
		}, []string{"type"}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ignored_bytes_total",
			Help:        "Inbound bytes that were not a status poll.",
			ConstLabels: labels,
		}),
		stable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "channel_pressed",
			Help:        "Debounced channel state (1 = pressed).",
			ConstLabels: labels,
		}, []string{"channel"}),
		transitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "channel_raw_transitions",
			Help:        "Raw level changes seen since start, including bounces.",
			ConstLabels: labels,
		}, []string{"channel"}),
		commits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "channel_commits",
			Help:        "Debounced state changes since start.",
			ConstLabels: labels,
		}, []string{"channel"}),
		lastFrameTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_frame_timestamp_ms",
			Help:        "Device clock value carried by the most recent frame.",
			ConstLabels: labels,
		}),
		mqttDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "mqtt_dropped_total",
			Help:        "Frames not mirrored to MQTT because the queue was full.",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.frames, m.writeErrors, m.ignored,
		m.stable, m.transitions, m.commits,
		m.lastFrameTs, m.mqttDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// FrameSent counts a frame write attempt.
func (m *Metrics) FrameSent(f protocol.Frame, err error) {
	if err != nil {
		m.writeErrors.WithLabelValues(f.Type.String()).Inc()
		return
	}
	m.frames.WithLabelValues(f.Type.String()).Inc()
	m.lastFrameTs.Set(float64(f.Timestamp))
}

// ByteIgnored counts an unrecognised inbound byte.
func (m *Metrics) ByteIgnored(byte) {
	m.ignored.Inc()
}

// MQTTDropped counts a frame the MQTT mirror had to drop.
func (m *Metrics) MQTTDropped() {
	m.mqttDropped.Inc()
}

// ObserveChannels records per-channel state and counters.
func (m *Metrics) ObserveChannels(stats []logic.ChannelStats) {
	for _, s := range stats {
		ch := strconv.Itoa(s.ID)
		pressed := 0.0
		if s.Stable {
			pressed = 1
		}
		m.stable.WithLabelValues(ch).Set(pressed)
		m.transitions.WithLabelValues(ch).Set(float64(s.Transitions))
		m.commits.WithLabelValues(ch).Set(float64(s.Commits))
	}
}

// RegisterSerialDropped exposes the serial inbound overflow counter.
func (m *Metrics) RegisterSerialDropped(dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "serial_dropped_bytes_total",
		Help:        "Inbound serial bytes dropped because the queue was full.",
		ConstLabels: m.labels,
	}, func() float64 { return float64(dropped()) }))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
