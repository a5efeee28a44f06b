// Package metrics holds the Prometheus collectors for the session core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "budget"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AuthResults     *prometheus.CounterVec
	ReuseDetected   prometheus.Counter
	BlacklistAdds   prometheus.Counter
	ScannerExpired  prometheus.Counter
	ScannerFailures prometheus.Counter
	RetentionPurged *prometheus.CounterVec
	WSConnections   prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	WSPruned        prometheus.Counter
}

// New registers all collectors, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "requests_total",
			Help: "Login, refresh and logout outcomes.",
		}, []string{"flow", "result"}),
		ReuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_reuse_total",
			Help: "Refresh attempts treated as token theft.",
		}),
		BlacklistAdds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "blacklisted_tokens_total",
			Help: "Access token jtis added to the blacklist.",
		}),
		ScannerExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "expired_sessions_total",
			Help: "Refresh rows expired by the background scanner.",
		}),
		ScannerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "tick_failures_total",
			Help: "Scanner ticks that failed or panicked.",
		}),
		RetentionPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "purged_rows_total",
			Help: "Rows deleted by the retention job.",
		}, []string{"table"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_total",
			Help: "Messages queued to WebSocket clients.",
		}, []string{"kind"}),
		WSPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "pruned_connections_total",
			Help: "Connections dropped by health checks or full queues.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AuthResults, m.ReuseDetected, m.BlacklistAdds,
		m.ScannerExpired, m.ScannerFailures, m.RetentionPurged,
		m.WSConnections, m.WSMessages, m.WSPruned,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Auth(flow, result string) {
	if m == nil {
		return
	}
	m.AuthResults.WithLabelValues(flow, result).Inc()
}

func (m *Metrics) Reuse() {
	if m == nil {
		return
	}
	m.ReuseDetected.Inc()
}

func (m *Metrics) Blacklisted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BlacklistAdds.Add(float64(n))
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ScannerExpired.Add(float64(n))
}

func (m *Metrics) ScannerFailed() {
	if m == nil {
		return
	}
	m.ScannerFailures.Inc()
}

func (m *Metrics) Purged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionPurged.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) Pruned() {
	if m == nil {
		return
	}
	m.WSPruned.Inc()
}
