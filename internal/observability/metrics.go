package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PairLedger.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreEventsEmitted    *prometheus.CounterVec
	CoreStateHashDur     prometheus.Histogram
	CoreSequence         prometheus.Gauge
	InvariantViolations  *prometheus.CounterVec

	// --- Pair state ---
	PairInterestPerSecond *prometheus.GaugeVec
	PairUtilization       *prometheus.GaugeVec
	PairTotalBorrow       *prometheus.GaugeVec
	PairTotalAsset        *prometheus.GaugeVec
	PairExchangeRate      *prometheus.GaugeVec
	PairTxReverted        *prometheus.CounterVec
	PairRateClamped       *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationsTotal  *prometheus.CounterVec
	LiquidatedUsers    *prometheus.CounterVec
	LiquidationsFailed *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	NonceGaps             *prometheus.CounterVec
	NonceReplays          *prometheus.CounterVec
	IngestParseErrors     *prometheus.CounterVec

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec

	// --- Snapshot ---
	SnapshotTaken       prometheus.Counter
	SnapshotDuration    prometheus.Histogram
	SnapshotSizeBytes   prometheus.Gauge
	SnapshotLastSeq     prometheus.Gauge
	ReplayCommandsTotal prometheus.Counter
	ReplayDuration      prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"kind"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_core_commands_rejected_total",
			Help: "Commands rejected (dedup, nonce, execution failure)",
		}, []string{"kind", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pair_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		CoreEventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_core_events_emitted_total",
			Help: "Pair and master events emitted by applied commands",
		}, []string{"event_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pair_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "pair_core_sequence",
			Help: "Last applied command sequence",
		}),

		InvariantViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_core_invariant_violations_total",
			Help: "Post-command invariant check failures",
		}, []string{"pair"}),

		// Pair state
		PairInterestPerSecond: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_interest_per_second",
			Help: "Current borrow rate per second (1e18 scale)",
		}, []string{"pair"}),

		PairUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_utilization_ratio",
			Help: "Borrowed over supplied asset amount at last accrual",
		}, []string{"pair"}),

		PairTotalBorrow: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_total_borrow_elastic",
			Help: "Outstanding debt amount",
		}, []string{"pair"}),

		PairTotalAsset: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_total_asset_elastic",
			Help: "Asset vault shares held for lenders",
		}, []string{"pair"}),

		PairExchangeRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_exchange_rate",
			Help: "Cached oracle exchange rate (1e18 scale)",
		}, []string{"pair"}),

		PairTxReverted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_tx_reverted_total",
			Help: "Pair transactions rolled back",
		}, []string{"pair", "op", "kind"}),

		PairRateClamped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_rate_clamped_total",
			Help: "Accruals where the rate hit a bound",
		}, []string{"pair"}),

		// Liquidation
		LiquidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_liquidations_total",
			Help: "Successful liquidation calls",
		}, []string{"pair", "mode"}),

		LiquidatedUsers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_liquidated_users_total",
			Help: "Positions liquidated",
		}, []string{"pair"}),

		LiquidationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_liquidations_failed_total",
			Help: "Liquidation calls that reverted",
		}, []string{"pair", "reason"}),

		// Channels
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pair_channel_utilization",
			Help: "Channel usage ratio",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_publish_drops_total",
			Help: "Events not published to NATS",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_persist_backpressure_total",
			Help: "Times core blocked on a full persist channel",
		}),

		// Idempotency & ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_idempotency_duplicates_total",
			Help: "Duplicate commands skipped",
		}, []string{"kind", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "pair_dedup_lru_size",
			Help: "Idempotency LRU entries",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		NonceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_nonce_gaps_total",
			Help: "Commands rejected for skipping a sender nonce",
		}, []string{"kind"}),

		NonceReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_nonce_replays_total",
			Help: "Commands rejected for reusing a sender nonce",
		}, []string{"kind"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_ingest_parse_errors_total",
			Help: "Inbound messages that failed to parse",
		}, []string{"subject"}),

		// Persistence
		PersistCommandsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_persist_commands_written_total",
			Help: "Commands written to the log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pair_persist_batch_size",
			Help:    "Commands per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pair_persist_batch_duration_seconds",
			Help:    "Time to persist a batch",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_persist_retries_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "pair_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pair_projection_update_duration_seconds",
			Help:    "Time to apply one output to projections",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"table"}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_snapshots_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pair_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "pair_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "pair_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayCommandsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pair_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "pair_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pair_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pair_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
