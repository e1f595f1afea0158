package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	KnownDevices  prometheus.Gauge
	KnownSessions prometheus.Gauge
	OperatorConns prometheus.Gauge
	Polls         *prometheus.CounterVec
	TasksEnqueued *prometheus.CounterVec
	Reports       *prometheus.CounterVec
	OperatorTurns *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		KnownDevices: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_devices",
			Help:      "Number of devices currently in the registry.",
		}),
		KnownSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_sessions",
			Help:      "Number of user sessions currently in the registry.",
		}),
		OperatorConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operator_connections",
			Help:      "Connected operator gateway websockets.",
		}),
		Polls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Device polls by outcome (drained, empty, denied).",
		}, []string{"outcome"}),
		TasksEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks appended to session queues by kind, companions included.",
		}, []string{"kind"}),
		Reports: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Device status reports by kind and outcome.",
		}, []string{"kind", "outcome"}),
		OperatorTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operator_turns_total",
			Help:      "Operator turns by outcome (replied, dropped, invalid).",
		}, []string{"outcome"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
