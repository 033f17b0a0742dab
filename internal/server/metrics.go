package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "sitehook"

const outcomeLabel = "outcome"

const (
	outcomeDeployed         = "deployed"
	outcomeDeployFailed     = "deploy_failed"
	outcomeIgnoredEvent     = "ignored_event"
	outcomeIgnoredBranch    = "ignored_branch"
	outcomeInvalidSignature = "invalid_signature"
	outcomeInvalidJSON      = "invalid_json"
	outcomeTooLarge         = "payload_too_large"
	outcomeReadError        = "read_error"
)

type metricCollector struct {
	webhooks *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		webhooks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "webhook_requests_total",
				Help:      "count of webhook deliveries by outcome",
			},
			[]string{outcomeLabel},
		),
	}
}

func (m *metricCollector) webhook(outcome string) {
	m.webhooks.WithLabelValues(outcome).Inc()
}
