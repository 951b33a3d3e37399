package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	batchesTotal     *prometheus.CounterVec
	paymentsSettled  prometheus.Counter
	failuresTotal    *prometheus.CounterVec
	validationsTotal *prometheus.CounterVec
}

func newMetricsRegistry() *metricsRegistry {
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchrails_settlement_batches_total",
		Help: "Total number of settlement batch submissions",
	}, []string{"status"})

	payments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batchrails_settlement_payments_total",
		Help: "Total number of individual payments settled",
	})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchrails_settlement_failures_total",
		Help: "Settlement failures by ledger reason",
	}, []string{"reason"})

	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batchrails_validations_total",
		Help: "Standalone validation pre-checks by outcome",
	}, []string{"outcome"})

	r := prometheus.NewRegistry()
	r.MustRegister(batches, payments, failures, validations)

	return &metricsRegistry{
		registry:         r,
		batchesTotal:     batches,
		paymentsSettled:  payments,
		failuresTotal:    failures,
		validationsTotal: validations,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incBatch(status string) {
	m.batchesTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) addPayments(n int) {
	m.paymentsSettled.Add(float64(n))
}

func (m *metricsRegistry) incFailure(reason string) {
	m.failuresTotal.WithLabelValues(reason).Inc()
}

func (m *metricsRegistry) incValidation(outcome string) {
	m.validationsTotal.WithLabelValues(outcome).Inc()
}
