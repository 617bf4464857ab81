package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for DefiHub.
type Metrics struct {
	// --- Engine operations ---
	OpsExecuted *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Risk ---
	HealthChecks         prometheus.Counter
	HealthStatus         *prometheus.GaugeVec
	LiquidationsExecuted prometheus.Counter
	CollateralSeized     *prometheus.CounterVec
	ProtectionsTriggered prometheus.Counter
	ProtectionsFailed    prometheus.Counter

	// --- Swaps & fees ---
	SwapVolume     *prometheus.CounterVec
	SwapFees       *prometheus.CounterVec
	RewardsClaimed *prometheus.CounterVec

	// --- Pricing ---
	PriceUpdates      *prometheus.CounterVec
	PriceStaleRejects *prometheus.CounterVec
	PriceFallbacks    *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all Prometheus metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer)
}

// NewMetricsOn registers the metrics on a caller-supplied registerer.
// Tests use it to get an isolated registry per case.
func NewMetricsOn(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	httpBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	}

	return &Metrics{
		OpsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_ops_executed_total",
			Help: "Engine operations completed successfully",
		}, []string{"op"}),

		OpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_ops_rejected_total",
			Help: "Engine operations rejected (precondition or collaborator failure)",
		}, []string{"op", "reason"}),

		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "defihub_op_duration_seconds",
			Help:    "Time to execute one engine operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		HealthChecks: f.NewCounter(prometheus.CounterOpts{
			Name: "defihub_health_factor_computations_total",
			Help: "Health factor computations performed",
		}),

		HealthStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "defihub_positions_by_status",
			Help: "Positions currently in each health status bucket",
		}, []string{"status"}),

		LiquidationsExecuted: f.NewCounter(prometheus.CounterOpts{
			Name: "defihub_liquidations_executed_total",
			Help: "Manual liquidations completed",
		}),

		CollateralSeized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_collateral_seized_total",
			Help: "Collateral seized by liquidations, native units",
		}, []string{"asset"}),

		ProtectionsTriggered: f.NewCounter(prometheus.CounterOpts{
			Name: "defihub_protections_triggered_total",
			Help: "Auto-protection attempts triggered",
		}),

		ProtectionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "defihub_protections_failed_total",
			Help: "Auto-protection attempts that could not execute",
		}),

		SwapVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_swap_volume_total",
			Help: "Swap input volume, native units",
		}, []string{"asset_in", "asset_out"}),

		SwapFees: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_swap_fees_total",
			Help: "Protocol fees collected from swaps, native units",
		}, []string{"asset"}),

		RewardsClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_rewards_claimed_total",
			Help: "Rewards paid out, native units of the reward asset",
		}, []string{"asset"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_price_updates_total",
			Help: "Oracle price updates accepted into the cache",
		}, []string{"symbol"}),

		PriceStaleRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_price_stale_rejects_total",
			Help: "Valuations rejected for stale or missing prices",
		}, []string{"symbol"}),

		PriceFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_price_fallbacks_total",
			Help: "Valuations served from the fixed fallback table",
		}, []string{"symbol"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "defihub_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "defihub_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_persist_errors_total",
			Help: "Postgres write errors by kind",
		}, []string{"kind"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "defihub_persist_retries_total",
			Help: "Postgres write retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "defihub_persist_last_sequence",
			Help: "Last event sequence durably written",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "defihub_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"route", "method", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "defihub_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: httpBuckets,
		}, []string{"route", "method"}),
	}
}
