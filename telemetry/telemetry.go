// Package telemetry exposes the gateway's Prometheus metrics: latency
// histograms for each pipeline stage and gas-cost gauges for the
// Commit Pipeline, matching spec.md §1's "fine-grained latency and
// cost telemetry" requirement on the Commit Pipeline (one of the few
// external-collaborator surfaces the spec treats as in-scope rather
// than excluded visualization tooling).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the gateway registers. Construct
// once at process start with NewMetrics and pass it down to the
// subsystems that record against it.
type Metrics struct {
	ConsensusLatency *prometheus.HistogramVec
	GenerateLatency  *prometheus.HistogramVec
	CommitLatency    *prometheus.HistogramVec
	VerifyLatency    *prometheus.HistogramVec

	ConsensusOutcomes *prometheus.CounterVec
	CommitOutcomes    *prometheus.CounterVec
	VerifyOutcomes    *prometheus.CounterVec

	GasCostWei  prometheus.Histogram
	GasPriceWei prometheus.Gauge
}

// NewMetrics builds and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConsensusLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "consensus",
			Name:      "evaluate_latency_seconds",
			Help:      "Consensus Gate Evaluate wall-clock latency.",
			Buckets:   prometheus.DefBuckets,
		}, nil),
		GenerateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "generator",
			Name:      "generate_latency_seconds",
			Help:      "Generator adapter call latency, labeled by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		CommitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "commit",
			Name:      "latency_seconds",
			Help:      "Commit Pipeline latency, labeled by phase (submit, confirm, total).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		VerifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "verify",
			Name:      "latency_seconds",
			Help:      "Verification Pipeline latency, labeled by phase (lookup, decode, recompute, total).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		ConsensusOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "consensus",
			Name:      "outcomes_total",
			Help:      "Consensus Gate decisions, labeled by passed/rejected.",
		}, []string{"result"}),
		CommitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "commit",
			Name:      "outcomes_total",
			Help:      "Commit Pipeline results, labeled by status.",
		}, []string{"status"}),
		VerifyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "verify",
			Name:      "outcomes_total",
			Help:      "Verification Pipeline results, labeled by overall_verified.",
		}, []string{"result"}),
		GasCostWei: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "commit",
			Name:      "gas_cost_wei",
			Help:      "Gas cost (wei) of confirmed commit transactions.",
			Buckets:   prometheus.ExponentialBuckets(1e12, 4, 10),
		}),
		GasPriceWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "commit",
			Name:      "last_gas_price_wei",
			Help:      "Gas price (wei) used for the most recent commit.",
		}),
	}

	reg.MustRegister(
		m.ConsensusLatency, m.GenerateLatency, m.CommitLatency, m.VerifyLatency,
		m.ConsensusOutcomes, m.CommitOutcomes, m.VerifyOutcomes,
		m.GasCostWei, m.GasPriceWei,
	)
	return m
}

// ObserveConsensus records one Consensus Gate decision.
func (m *Metrics) ObserveConsensus(elapsedSeconds float64, passed bool) {
	m.ConsensusLatency.WithLabelValues().Observe(elapsedSeconds)
	result := "rejected"
	if passed {
		result = "passed"
	}
	m.ConsensusOutcomes.WithLabelValues(result).Inc()
}

// ObserveCommit records one Commit Pipeline result.
func (m *Metrics) ObserveCommit(submitSeconds, confirmSeconds, totalSeconds float64, status string, gasCostWei, gasPriceWei float64) {
	m.CommitLatency.WithLabelValues("submit").Observe(submitSeconds)
	if confirmSeconds > 0 {
		m.CommitLatency.WithLabelValues("confirm").Observe(confirmSeconds)
	}
	m.CommitLatency.WithLabelValues("total").Observe(totalSeconds)
	m.CommitOutcomes.WithLabelValues(status).Inc()
	if gasCostWei > 0 {
		m.GasCostWei.Observe(gasCostWei)
	}
	if gasPriceWei > 0 {
		m.GasPriceWei.Set(gasPriceWei)
	}
}

// ObserveVerify records one Verification Pipeline result.
func (m *Metrics) ObserveVerify(lookupSeconds, decodeSeconds, recomputeSeconds, totalSeconds float64, overallVerified bool) {
	m.VerifyLatency.WithLabelValues("lookup").Observe(lookupSeconds)
	m.VerifyLatency.WithLabelValues("decode").Observe(decodeSeconds)
	m.VerifyLatency.WithLabelValues("recompute").Observe(recomputeSeconds)
	m.VerifyLatency.WithLabelValues("total").Observe(totalSeconds)
	result := "unverified"
	if overallVerified {
		result = "verified"
	}
	m.VerifyOutcomes.WithLabelValues(result).Inc()
}
