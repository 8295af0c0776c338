package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the battle engine.
type Metrics struct {
	// --- Battle lifecycle ---
	BattlesStarted prometheus.Counter
	BattlesSettled *prometheus.CounterVec
	BattlesAborted prometheus.Counter
	LiveBattles    prometheus.Gauge

	// --- Votes & gifts ---
	VotesAccepted prometheus.Counter
	VotesRejected *prometheus.CounterVec
	GiftsApplied  prometheus.Counter

	// --- Settlement ---
	SettlementDuration prometheus.Histogram
	SettlementFailures prometheus.Counter
	SettledPoolTotal   prometheus.Counter

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistErrors      *prometheus.CounterVec

	// --- Publishing ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics. Call once
// per process: promauto registers against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		BattlesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_started_total",
			Help: "Battles started",
		}),

		BattlesSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "battle_settled_total",
			Help: "Battles settled, by outcome",
		}, []string{"outcome"}),

		BattlesAborted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_aborted_total",
			Help: "Battles aborted before settlement",
		}),

		LiveBattles: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "battle_live",
			Help: "Currently running battles",
		}),

		VotesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_votes_accepted_total",
			Help: "Votes accepted into a wager pool",
		}),

		VotesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "battle_votes_rejected_total",
			Help: "Votes rejected, by reason",
		}, []string{"reason"}),

		GiftsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_gifts_applied_total",
			Help: "Gift/like events applied to a score",
		}),

		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "battle_settlement_duration_seconds",
			Help:    "Time to compute one settlement",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		SettlementFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_settlement_failures_total",
			Help: "Settlements aborted on invariant violation",
		}),

		SettledPoolTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_settled_pool_total",
			Help: "Sum of settled pool amounts (minor units)",
		}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_persist_rows_written_total",
			Help: "Rows written to the audit log",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "battle_persist_batch_size",
			Help:    "Rows per audit batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "battle_persist_errors_total",
			Help: "Audit write errors",
		}, []string{"error_type"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "battle_events_published_total",
			Help: "Lifecycle events published to NATS",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "battle_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),
	}
}
