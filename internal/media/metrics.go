package media

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts relay traffic. All methods tolerate a nil receiver so the
// relays can run unmetered in tests.
type Metrics struct {
	forwarded     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	registrations *prometheus.CounterVec
}

// NewMetrics registers the relay counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_packets_forwarded_total",
			Help: "Datagrams forwarded, by relay and routing kind.",
		}, []string{"relay", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_packets_dropped_total",
			Help: "Datagrams dropped, by relay and reason.",
		}, []string{"relay", "reason"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_registrations_total",
			Help: "Endpoint registration datagrams handled, by relay.",
		}, []string{"relay"}),
	}

	reg.MustRegister(m.forwarded, m.dropped, m.registrations)
	return m
}

func (m *Metrics) recordForward(relay, kind string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(relay, kind).Inc()
}

func (m *Metrics) recordDrop(relay, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(relay, reason).Inc()
}

func (m *Metrics) recordRegistration(relay string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(relay).Inc()
}
