// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shopbot"

var (
	// SubscriptionsByStatus tracks the number of subscriptions in each billing status.
	SubscriptionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "subscriptions_by_status",
		Help:      "Number of subscriptions by billing status.",
	}, []string{"status"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// PromoRedemptionsTotal counts promo code redemption attempts by outcome.
	PromoRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "promo_redemptions_total",
		Help:      "Promo code redemption attempts by outcome.",
	}, []string{"outcome"})

	// GraceCancellationsTotal counts past_due subscriptions canceled after the grace period.
	GraceCancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "grace_cancellations_total",
		Help:      "Subscriptions canceled by the grace period enforcer.",
	})

	// ChatRequestsTotal counts chat requests by endpoint and outcome.
	ChatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "requests_total",
		Help:      "Chat requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// LLMRequestDuration tracks outbound LLM latency.
	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "LLM request duration in seconds by provider and outcome.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"provider", "outcome"})

	// LLMTokensTotal counts tokens consumed by direction.
	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "LLM tokens consumed by provider and direction (input/output).",
	}, []string{"provider", "direction"})

	// LLMCircuitState reports the LLM circuit breaker state (0=closed, 1=half-open, 2=open).
	LLMCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "circuit_state",
		Help:      "LLM circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})
)
