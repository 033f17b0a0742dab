package deployment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "sitehook"

const resultLabel = "result"

const (
	resultSuccessVal = "success"
	resultFailureVal = "failure"
	resultTimeoutVal = "timeout"
)

type metricCollector struct {
	deployments *prometheus.CounterVec
	duration    prometheus.Histogram
	inProgress  prometheus.Gauge
	waiting     prometheus.Gauge
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		deployments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "deployments_total",
				Help:      "count of deploy command invocations by result",
			},
			[]string{resultLabel},
		),
		duration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "deployment_duration_seconds",
				Help:      "wall time of deploy command invocations",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		inProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "deployment_in_progress",
				Help:      "1 while a deploy command is running",
			},
		),
		waiting: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "deployments_waiting",
				Help:      "requests waiting for the deployment lock",
			},
		),
	}
}

func (m *metricCollector) observe(r *Result) {
	switch {
	case r.Success:
		m.deployments.WithLabelValues(resultSuccessVal).Inc()
	case r.TimedOut:
		m.deployments.WithLabelValues(resultTimeoutVal).Inc()
	default:
		m.deployments.WithLabelValues(resultFailureVal).Inc()
	}
	m.duration.Observe(r.Duration.Seconds())
}
