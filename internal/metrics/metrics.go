// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manpreetbhatti/coderelay/internal/room"
)

// Metrics owns its own registry so tests never share collectors.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	rooms       prometheus.Gauge
	messages    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	dropped     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connections_active",
			Help:      "Open WebSocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "rooms_active",
			Help:      "Rooms currently in the registry.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_total",
			Help:      "Client messages handled, by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_rejected_total",
			Help:      "Client messages rejected, by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_dropped_total",
			Help:      "Broadcast deliveries skipped because a member queue was full or closed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.rooms,
		m.messages,
		m.rejected,
		m.dropped,
	)
	return m
}

// Handler exposes Prometheus metrics at /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// RoomOpened and RoomClosed make Metrics a room.Observer.
func (m *Metrics) RoomOpened(room.Stats) {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) RoomClosed(room.Stats) {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) MessageHandled(typ string) {
	if m != nil {
		m.messages.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) MessageRejected(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) DeliveriesDropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}
