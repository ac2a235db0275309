package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics tracks the strategyd HTTP surface.
type APIMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *APIMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// API returns the lazily-initialised HTTP metrics registry.
func API() *APIMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "garden",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by route and status class.",
			}, []string{"route", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "garden",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "garden",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "API requests rejected before reaching a handler.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(apiRegistry.requests, apiRegistry.latency, apiRegistry.throttles)
	})
	return apiRegistry
}

// Observe records a served request. route should be the router pattern, not
// the raw path, to keep label cardinality bounded.
func (m *APIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelOrUnknown(route)
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request.
func (m *APIMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// KeeperMetrics tracks the strategyd keeper loop.
type KeeperMetrics struct {
	jobs      *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	liquidity *prometheus.GaugeVec
	freshness *prometheus.GaugeVec
}

// Keeper exposes the metrics registry for the keeper scheduler.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "garden",
				Subsystem: "keeper",
				Name:      "jobs_total",
				Help:      "Keeper actions attempted segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "garden",
				Subsystem: "keeper",
				Name:      "sweep_duration_seconds",
				Help:      "Latency distribution for a full keeper sweep.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job"}),
			liquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "garden",
				Subsystem: "keeper",
				Name:      "liquid_reserve",
				Help:      "Liquid reserve per garden in whole reserve units.",
			}, []string{"garden"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "garden",
				Subsystem: "keeper",
				Name:      "price_age_seconds",
				Help:      "Age of the freshest quote per asset when the keeper last priced it.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			keeperRegistry.jobs,
			keeperRegistry.latency,
			keeperRegistry.liquidity,
			keeperRegistry.freshness,
		)
	})
	return keeperRegistry
}

// RecordJob counts one keeper action. outcome is "ok", "skipped" or an error
// class.
func (m *KeeperMetrics) RecordJob(action, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(action, labelOrUnknown(outcome)).Inc()
}

// ObserveSweep records how long a keeper sweep took.
func (m *KeeperMetrics) ObserveSweep(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(labelOrUnknown(job)).Observe(d.Seconds())
}

// RecordLiquidity updates the liquid reserve gauge for a garden.
func (m *KeeperMetrics) RecordLiquidity(garden string, liquid *big.Int) {
	if m == nil {
		return
	}
	m.liquidity.WithLabelValues(labelOrUnknown(garden)).Set(bigToUnits(liquid))
}

// RecordFreshness records how stale the quote used for asset was.
func (m *KeeperMetrics) RecordFreshness(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(labelOrUnknown(asset)).Set(age.Seconds())
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// bigToUnits converts an 18-decimal amount into whole units.
func bigToUnits(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).Quo(new(big.Float).SetInt(value), big.NewFloat(1e18)).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
