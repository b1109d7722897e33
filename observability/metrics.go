// Package observability bundles the Prometheus registries the fanzcore
// services record into. Registries are lazily initialised singletons so
// packages can grab them without wiring.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	paymentMetricsOnce sync.Once
	paymentRegistry    *PaymentMetrics

	trustMetricsOnce sync.Once
	trustRegistry    *TrustMetrics

	webhookMetricsOnce sync.Once
	webhookRegistry    *WebhookMetrics

	payoutMetricsOnce sync.Once
	payoutRegistry    *PayoutMetrics

	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics
)

// PaymentMetrics tracks the orchestrator's payment machine.
type PaymentMetrics struct {
	payments  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	attempts  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	breaker   *prometheus.GaugeVec
}

// Payments returns the payment machine registry.
func Payments() *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentRegistry = &PaymentMetrics{
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "payments",
				Name:      "transactions_total",
				Help:      "Count of payment transactions segmented by processor and terminal outcome.",
			}, []string{"processor", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fanz",
				Subsystem: "payments",
				Name:      "duration_seconds",
				Help:      "Latency distribution from initiation to capture or failure.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"processor"}),
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "payments",
				Name:      "auth_attempts_total",
				Help:      "Count of authorization attempts segmented by processor and result code.",
			}, []string{"processor", "code"}),
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "payments",
				Name:      "fallbacks_total",
				Help:      "Count of MID fallbacks taken after retriable declines.",
			}, []string{"from_mid", "to_mid"}),
			breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fanz",
				Subsystem: "payments",
				Name:      "breaker_open",
				Help:      "Whether the circuit breaker for a processor is open (1) or not (0).",
			}, []string{"processor"}),
		}
		prometheus.MustRegister(
			paymentRegistry.payments,
			paymentRegistry.latency,
			paymentRegistry.attempts,
			paymentRegistry.fallbacks,
			paymentRegistry.breaker,
		)
	})
	return paymentRegistry
}

// ObservePayment records a terminal payment outcome with its duration.
func (m *PaymentMetrics) ObservePayment(processor, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	proc := labelOr(processor, "none")
	m.payments.WithLabelValues(proc, labelOr(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(proc).Observe(d.Seconds())
}

// RecordAttempt counts one authorization attempt.
func (m *PaymentMetrics) RecordAttempt(processor, code string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(labelOr(processor, "none"), labelOr(code, "approved")).Inc()
}

// RecordFallback counts a MID fallback hop.
func (m *PaymentMetrics) RecordFallback(fromMID, toMID string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(labelOr(fromMID, "none"), labelOr(toMID, "none")).Inc()
}

// SetBreaker reflects a processor's breaker state.
func (m *PaymentMetrics) SetBreaker(processor string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breaker.WithLabelValues(labelOr(processor, "none")).Set(v)
}

// TrustMetrics tracks the scoring engine.
type TrustMetrics struct {
	scores    *prometheus.HistogramVec
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
}

// Trust returns the scoring registry.
func Trust() *TrustMetrics {
	trustMetricsOnce.Do(func() {
		trustRegistry = &TrustMetrics{
			scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fanz",
				Subsystem: "trust",
				Name:      "score",
				Help:      "Distribution of computed trust scores segmented by context.",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			}, []string{"context"}),
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "trust",
				Name:      "decisions_total",
				Help:      "Count of trust decisions segmented by context and verdict.",
			}, []string{"context", "decision"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "fanz",
				Subsystem: "trust",
				Name:      "scoring_duration_seconds",
				Help:      "Wall time spent collecting and combining signals.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(trustRegistry.scores, trustRegistry.decisions, trustRegistry.duration)
	})
	return trustRegistry
}

// ObserveScore records one scoring pass.
func (m *TrustMetrics) ObserveScore(context string, score int, decision string, d time.Duration) {
	if m == nil {
		return
	}
	ctx := labelOr(context, "payment")
	m.scores.WithLabelValues(ctx).Observe(float64(score))
	m.decisions.WithLabelValues(ctx, labelOr(decision, "unknown")).Inc()
	m.duration.Observe(d.Seconds())
}

// WebhookMetrics tracks inbound processor notifications.
type WebhookMetrics struct {
	events     *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	rejected   *prometheus.CounterVec
}

// Webhooks returns the ingestion registry.
func Webhooks() *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookRegistry = &WebhookMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "webhooks",
				Name:      "events_total",
				Help:      "Count of applied processor events segmented by processor and kind.",
			}, []string{"processor", "kind"}),
			duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "webhooks",
				Name:      "duplicates_total",
				Help:      "Count of replayed notifications acknowledged without effect.",
			}, []string{"processor"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "webhooks",
				Name:      "rejected_total",
				Help:      "Count of rejected notifications segmented by processor and reason.",
			}, []string{"processor", "reason"}),
		}
		prometheus.MustRegister(webhookRegistry.events, webhookRegistry.duplicates, webhookRegistry.rejected)
	})
	return webhookRegistry
}

// RecordEvent counts one applied event.
func (m *WebhookMetrics) RecordEvent(processor, kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(processor, "unknown"), labelOr(kind, "unknown")).Inc()
}

// RecordDuplicate counts one acknowledged replay.
func (m *WebhookMetrics) RecordDuplicate(processor string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(labelOr(processor, "unknown")).Inc()
}

// RecordRejected counts one rejection. Reasons are stable strings such
// as "signature" or "malformed".
func (m *WebhookMetrics) RecordRejected(processor, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(labelOr(processor, "unknown"), labelOr(reason, "unspecified")).Inc()
}

// PayoutMetrics tracks the payout pipeline.
type PayoutMetrics struct {
	payouts  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	held     prometheus.Gauge
	balances *prometheus.GaugeVec
}

// Payouts returns the payout registry.
func Payouts() *PayoutMetrics {
	payoutMetricsOnce.Do(func() {
		payoutRegistry = &PayoutMetrics{
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "payouts",
				Name:      "payouts_total",
				Help:      "Count of payouts segmented by rail and terminal status.",
			}, []string{"rail", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fanz",
				Subsystem: "payouts",
				Name:      "latency_seconds",
				Help:      "Latency distribution from request to sent.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"rail"}),
			held: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fanz",
				Subsystem: "payouts",
				Name:      "held_creators",
				Help:      "Number of creators currently under a payout hold.",
			}),
			balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fanz",
				Subsystem: "payouts",
				Name:      "clearing_balance",
				Help:      "Payout clearing balance in minor units per currency.",
			}, []string{"currency"}),
		}
		prometheus.MustRegister(
			payoutRegistry.payouts,
			payoutRegistry.latency,
			payoutRegistry.held,
			payoutRegistry.balances,
		)
	})
	return payoutRegistry
}

// ObservePayout records a terminal payout with its request-to-sent time.
func (m *PayoutMetrics) ObservePayout(rail, status string, d time.Duration) {
	if m == nil {
		return
	}
	r := labelOr(rail, "unknown")
	m.payouts.WithLabelValues(r, labelOr(status, "unknown")).Inc()
	m.latency.WithLabelValues(r).Observe(d.Seconds())
}

// SetHeldCreators updates the hold gauge.
func (m *PayoutMetrics) SetHeldCreators(n int) {
	if m == nil {
		return
	}
	m.held.Set(float64(n))
}

// SetClearingBalance updates the clearing balance gauge.
func (m *PayoutMetrics) SetClearingBalance(currency string, units int64) {
	if m == nil {
		return
	}
	m.balances.WithLabelValues(labelOr(currency, "USD")).Set(float64(units))
}

// SettlementMetrics tracks reconciliation runs.
type SettlementMetrics struct {
	runs          *prometheus.CounterVec
	discrepancies *prometheus.CounterVec
	feeDelta      *prometheus.GaugeVec
}

// Settlement returns the reconciliation registry.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "settlement",
				Name:      "runs_total",
				Help:      "Count of reconciliation runs segmented by processor and outcome.",
			}, []string{"processor", "outcome"}),
			discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fanz",
				Subsystem: "settlement",
				Name:      "discrepancies_total",
				Help:      "Count of reconciliation discrepancies segmented by processor and kind.",
			}, []string{"processor", "kind"}),
			feeDelta: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fanz",
				Subsystem: "settlement",
				Name:      "fee_delta_units",
				Help:      "Signed difference between expected and reported fees for the last run.",
			}, []string{"processor"}),
		}
		prometheus.MustRegister(
			settlementRegistry.runs,
			settlementRegistry.discrepancies,
			settlementRegistry.feeDelta,
		)
	})
	return settlementRegistry
}

// RecordRun counts a completed reconciliation.
func (m *SettlementMetrics) RecordRun(processor string, clean bool) {
	if m == nil {
		return
	}
	outcome := "clean"
	if !clean {
		outcome = "discrepant"
	}
	m.runs.WithLabelValues(labelOr(processor, "unknown"), outcome).Inc()
}

// RecordDiscrepancy counts one discrepancy by kind: "missing_local",
// "missing_remote" or "fee_mismatch".
func (m *SettlementMetrics) RecordDiscrepancy(processor, kind string) {
	if m == nil {
		return
	}
	m.discrepancies.WithLabelValues(labelOr(processor, "unknown"), labelOr(kind, "unknown")).Inc()
}

// SetFeeDelta records the aggregate fee drift of the last run.
func (m *SettlementMetrics) SetFeeDelta(processor string, units int64) {
	if m == nil {
		return
	}
	m.feeDelta.WithLabelValues(labelOr(processor, "unknown")).Set(float64(units))
}

func labelOr(v, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return strings.ToLower(trimmed)
	}
	return fallback
}
