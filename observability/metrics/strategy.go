package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type StrategyMetrics struct {
	transitions      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	keeperFees       *prometheus.CounterVec
	keeperDebt       *prometheus.CounterVec
	unwinds          prometheus.Counter
	capitalAllocated *prometheus.GaugeVec
	nav              *prometheus.GaugeVec
	settlementPnL    *prometheus.HistogramVec
}

var (
	strategyOnce     sync.Once
	strategyRegistry *StrategyMetrics
)

func Strategy() *StrategyMetrics {
	strategyOnce.Do(func() {
		strategyRegistry = &StrategyMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_transitions_total",
				Help: "Count of successful strategy lifecycle transitions by action.",
			}, []string{"action"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_rejections_total",
				Help: "Count of rejected strategy calls by action and error class.",
			}, []string{"action", "class"}),
			keeperFees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_keeper_fees_total",
				Help: "Keeper fees paid by action, in whole reserve units.",
			}, []string{"action"}),
			keeperDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "strategy_keeper_debt_total",
				Help: "Keeper fees deferred as garden debt, in whole reserve units.",
			}, []string{"garden"}),
			unwinds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "strategy_unwinds_total",
				Help: "Count of partial strategy unwinds.",
			}),
			capitalAllocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "strategy_capital_allocated",
				Help: "Capital currently allocated per strategy, in whole reserve units.",
			}, []string{"strategy"}),
			nav: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "strategy_nav",
				Help: "Last observed net asset value per strategy, in whole reserve units.",
			}, []string{"strategy"}),
			settlementPnL: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "strategy_settlement_return_ratio",
				Help:    "Capital returned divided by capital allocated at finalization.",
				Buckets: []float64{0.5, 0.8, 0.9, 0.95, 1, 1.05, 1.1, 1.25, 1.5, 2},
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			strategyRegistry.transitions,
			strategyRegistry.rejections,
			strategyRegistry.keeperFees,
			strategyRegistry.keeperDebt,
			strategyRegistry.unwinds,
			strategyRegistry.capitalAllocated,
			strategyRegistry.nav,
			strategyRegistry.settlementPnL,
		)
	})
	return strategyRegistry
}

// toUnits converts an 18-decimal amount into a float of whole units for
// reporting only.
func toUnits(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e18)).Float64()
	return f
}

func (m *StrategyMetrics) ObserveTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *StrategyMetrics) ObserveRejection(action, class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "unknown"
	}
	m.rejections.WithLabelValues(action, class).Inc()
}

func (m *StrategyMetrics) ObserveKeeperFee(action string, fee *big.Int) {
	if m == nil {
		return
	}
	m.keeperFees.WithLabelValues(action).Add(toUnits(fee))
}

func (m *StrategyMetrics) ObserveKeeperDebt(garden string, fee *big.Int) {
	if m == nil {
		return
	}
	m.keeperDebt.WithLabelValues(garden).Add(toUnits(fee))
}

func (m *StrategyMetrics) IncUnwind() {
	if m == nil {
		return
	}
	m.unwinds.Inc()
}

func (m *StrategyMetrics) SetCapitalAllocated(strategy string, amount *big.Int) {
	if m == nil {
		return
	}
	m.capitalAllocated.WithLabelValues(strategy).Set(toUnits(amount))
}

func (m *StrategyMetrics) SetNAV(strategy string, nav *big.Int) {
	if m == nil {
		return
	}
	m.nav.WithLabelValues(strategy).Set(toUnits(nav))
}

func (m *StrategyMetrics) ObserveSettlement(allocated, returned *big.Int) {
	if m == nil || allocated == nil || allocated.Sign() == 0 {
		return
	}
	outcome := "profit"
	if returned.Cmp(allocated) <= 0 {
		outcome = "loss"
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(returned), new(big.Float).SetInt(allocated)).Float64()
	m.settlementPnL.WithLabelValues(outcome).Observe(ratio)
}

// InitActions pre-creates the labelled series so dashboards show zeroes.
func (m *StrategyMetrics) InitActions(actions ...string) {
	if m == nil {
		return
	}
	for _, action := range actions {
		m.transitions.WithLabelValues(action).Add(0)
		m.keeperFees.WithLabelValues(action).Add(0)
	}
}
