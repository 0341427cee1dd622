package portforward

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes port mapping activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	opened            *prometheus.CounterVec
	failures          *prometheus.CounterVec
	removed           *prometheus.CounterVec
	open              prometheus.Gauge
	discoveryFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portforward",
			Name:      "mappings_opened_total",
			Help:      "Port mappings successfully opened on the gateway.",
		}, []string{"protocol"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portforward",
			Name:      "mapping_failures_total",
			Help:      "Gateway mapping requests that failed, by operation.",
		}, []string{"protocol", "op"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portforward",
			Name:      "mappings_removed_total",
			Help:      "Port mappings successfully removed from the gateway.",
		}, []string{"protocol"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portforward",
			Name:      "open_mappings",
			Help:      "Port mappings currently tracked by the session.",
		}),
		discoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portforward",
			Name:      "discovery_failures_total",
			Help:      "Gateway discovery attempts that failed on an interface.",
		}),
	}

	for _, c := range []prometheus.Collector{m.opened, m.failures, m.removed, m.open, m.discoveryFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) mappingOpened(proto Protocol) {
	if m == nil {
		return
	}
	m.opened.WithLabelValues(proto.String()).Inc()
}

func (m *Metrics) mappingFailed(proto Protocol, op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(proto.String(), op).Inc()
}

func (m *Metrics) mappingRemoved(proto Protocol) {
	if m == nil {
		return
	}
	m.removed.WithLabelValues(proto.String()).Inc()
}

func (m *Metrics) setOpen(n int) {
	if m == nil {
		return
	}
	m.open.Set(float64(n))
}

func (m *Metrics) discoveryFailed() {
	if m == nil {
		return
	}
	m.discoveryFailures.Inc()
}
