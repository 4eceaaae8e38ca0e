package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector using Prometheus metrics, labeled
// by account name so a single dashboard covers every watched mailbox.
type PrometheusCollector struct {
	connectAttemptsTotal  *prometheus.CounterVec
	disconnectsTotal      *prometheus.CounterVec
	reconnectsTotal       *prometheus.CounterVec
	idleRestartsTotal     *prometheus.CounterVec
	unseenCount           *prometheus.GaugeVec
	publishesTotal        prometheus.Counter
}

// NewPrometheusCollector creates a PrometheusCollector with all metrics
// registered against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmonitor_connect_attempts_total",
			Help: "Total number of connection attempts per account.",
		}, []string{"account"}),
		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmonitor_disconnects_total",
			Help: "Total number of session disconnects per account.",
		}, []string{"account"}),
		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmonitor_reconnects_total",
			Help: "Total number of reconnect attempts per account after backoff.",
		}, []string{"account"}),
		idleRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmonitor_idle_restarts_total",
			Help: "Total number of proactive IDLE restarts per account.",
		}, []string{"account"}),
		unseenCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailmonitor_unseen_messages",
			Help: "Current unseen message count per account.",
		}, []string{"account"}),
		publishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailmonitor_status_file_writes_total",
			Help: "Total number of times the status file was rewritten.",
		}),
	}

	reg.MustRegister(
		c.connectAttemptsTotal,
		c.disconnectsTotal,
		c.reconnectsTotal,
		c.idleRestartsTotal,
		c.unseenCount,
		c.publishesTotal,
	)

	return c
}

func (c *PrometheusCollector) SessionConnecting(account string) {
	c.connectAttemptsTotal.WithLabelValues(account).Inc()
}

func (c *PrometheusCollector) SessionDisconnected(account string) {
	c.disconnectsTotal.WithLabelValues(account).Inc()
}

func (c *PrometheusCollector) ReconnectAttempted(account string) {
	c.reconnectsTotal.WithLabelValues(account).Inc()
}

func (c *PrometheusCollector) IdleRestarted(account string) {
	c.idleRestartsTotal.WithLabelValues(account).Inc()
}

func (c *PrometheusCollector) UnseenCount(account string, count int) {
	c.unseenCount.WithLabelValues(account).Set(float64(count))
}

func (c *PrometheusCollector) PublishWritten() {
	c.publishesTotal.Inc()
}
