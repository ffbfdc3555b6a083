// Package metrics exposes Prometheus instrumentation for the engine:
//
//   - warden_batches_total              – position event batches consumed
//   - warden_tiers_fired_total{tier}    – partial closes by tier
//   - warden_breakeven_moves_total      – stops ratcheted to breakeven
//   - warden_broker_call_failures_total{op} – failed broker mutations by op
//   - warden_trades_open                – open trades gauge
//   - warden_locked_scopes              – drawdown-locked scopes gauge
//
// Registered in init() and served at /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_batches_total",
		Help: "Position event batches consumed",
	})

	tiersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_tiers_fired_total",
		Help: "Partial closes executed, by tier",
	}, []string{"tier"})

	breakevenMoves = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "warden_breakeven_moves_total",
		Help: "Stop-losses ratcheted to breakeven",
	})

	brokerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_broker_call_failures_total",
		Help: "Failed broker mutations, by operation",
	}, []string{"op"})

	tradesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_trades_open",
		Help: "Open trades in the ledger",
	})

	lockedScopes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "warden_locked_scopes",
		Help: "Scopes currently locked by the drawdown breaker",
	})
)

func init() {
	prometheus.MustRegister(
		batchesTotal,
		tiersFired,
		breakevenMoves,
		brokerFailures,
		tradesOpen,
		lockedScopes,
	)
}

// BatchProcessed increments the consumed-batch counter.
func BatchProcessed() { batchesTotal.Inc() }

// TierFired increments the partial-close counter for a tier ("tp1".."tp3").
func TierFired(tier string) { tiersFired.WithLabelValues(tier).Inc() }

// BreakevenMoved increments the breakeven ratchet counter.
func BreakevenMoved() { breakevenMoves.Inc() }

// BrokerCallFailed increments the failure counter for a broker operation.
func BrokerCallFailed(op string) { brokerFailures.WithLabelValues(op).Inc() }

// SetOpenTrades records the current open-trade count.
func SetOpenTrades(n int) { tradesOpen.Set(float64(n)) }

// SetLockedScopes records the current locked-scope count.
func SetLockedScopes(n int) { lockedScopes.Set(float64(n)) }
