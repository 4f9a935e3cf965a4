package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records solvency-engine activity segmented by operation and
// outcome, plus the oracle failures that abort value-dependent operations.
type EngineMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations prometheus.Counter
	oracleErrors *prometheus.CounterVec
	healthFactor *prometheus.GaugeVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "State transitions executed by the solvency engine segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zusd",
				Subsystem: "engine",
				Name:      "operation_seconds",
				Help:      "Latency of solvency engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Successful liquidation executions.",
			}),
			oracleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zusd",
				Subsystem: "oracle",
				Name:      "read_failures_total",
				Help:      "Price readings rejected as stale or invalid, segmented by reason.",
			}, []string{"reason"}),
			healthFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "zusd",
				Subsystem: "engine",
				Name:      "health_factor",
				Help:      "Most recently observed health factor per queried account.",
			}, []string{"account"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.liquidations,
			engineRegistry.oracleErrors,
			engineRegistry.healthFactor,
		)
	})
	return engineRegistry
}

// ObserveOperation records one engine operation with its outcome and duration.
func (m *EngineMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLiquidation counts a committed liquidation.
func (m *EngineMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// RecordOracleFailure counts a rejected price reading.
func (m *EngineMetrics) RecordOracleFailure(reason string) {
	if m == nil {
		return
	}
	m.oracleErrors.WithLabelValues(reason).Inc()
}

// RecordHealthFactor exports a queried health factor. The 18-decimal fixed
// point value is scaled down to a float gauge; saturated (debt-free) factors
// are reported as +Inf.
func (m *EngineMetrics) RecordHealthFactor(account string, factor *big.Int, saturated bool) {
	if m == nil || factor == nil {
		return
	}
	value := math.Inf(1)
	if !saturated {
		scaled, _ := new(big.Float).Quo(
			new(big.Float).SetInt(factor),
			big.NewFloat(1e18),
		).Float64()
		value = scaled
	}
	m.healthFactor.WithLabelValues(account).Set(value)
}
