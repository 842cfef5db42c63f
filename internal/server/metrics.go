package server

import "github.com/prometheus/client_golang/prometheus"

type relayMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	framesIn        *prometheus.CounterVec
	frameErrors     *prometheus.CounterVec
	messagesRelayed *prometheus.CounterVec
	slowConsumers   prometheus.Counter
}

func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &relayMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Current number of authenticated sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of authenticated sessions since start.",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_received_total",
			Help: "Frames received, by message type.",
		}, []string{"type"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frame_errors_total",
			Help: "Frame decode and dispatch errors, by reason.",
		}, []string{"reason"}),
		messagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Messages routed to recipients, by kind.",
		}, []string{"kind"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_slow_consumers_total",
			Help: "Sessions dropped because their outbound queue filled.",
		}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionsTotal,
		m.framesIn,
		m.frameErrors,
		m.messagesRelayed,
		m.slowConsumers,
	)
	return m
}

func (m *relayMetrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *relayMetrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *relayMetrics) recordFrame(msgType string) {
	if m == nil || msgType == "" {
		return
	}
	m.framesIn.WithLabelValues(msgType).Inc()
}

func (m *relayMetrics) recordError(reason string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *relayMetrics) recordRelay(kind string) {
	if m == nil {
		return
	}
	m.messagesRelayed.WithLabelValues(kind).Inc()
}

func (m *relayMetrics) recordSlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}
