// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChargesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_charges_generated_total",
		Help: "Charges created by the generator, by tenant",
	}, []string{"tenant"})

	ChargesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_charges_skipped_total",
		Help: "Members skipped because a charge already exists for the period",
	}, []string{"tenant"})

	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_dispatch_total",
		Help: "Charge dispatch attempts by gateway and outcome",
	}, []string{"gateway", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clubpay_gateway_create_charge_seconds",
		Help:    "Latency of gateway charge creation",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_webhook_requests_total",
		Help: "Inbound webhook requests by provider and HTTP status",
	}, []string{"provider", "status"})

	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_reconcile_total",
		Help: "Webhook processing outcomes by reason",
	}, []string{"outcome"})

	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_jobs_total",
		Help: "Queue task executions by kind and outcome",
	}, []string{"kind", "outcome"})

	PendingRetryMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clubpay_charges_pending_retry_total",
		Help: "Charges moved to PENDING_RETRY after generation exhausted its attempts",
	})
)
