package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Execution engine metrics
var (
	MonitoredConditions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderexec_monitored_conditions",
			Help: "Number of trigger conditions currently monitored by the engine",
		},
	)

	SweepLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderexec_sweep_latency_seconds",
			Help:    "Latency in seconds of one monitoring sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	TriggersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderexec_triggers_fired_total",
			Help: "Total number of trigger conditions that fired",
		},
		[]string{"type"},
	)

	QuoteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderexec_quote_failures_total",
			Help: "Total number of quote lookups that failed or returned an unusable price",
		},
		[]string{"symbol"},
	)

	ExecutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderexec_execution_failures_total",
			Help: "Total number of triggered orders that failed a processing stage",
		},
		[]string{"stage"},
	)
)

// Lifecycle metrics
var (
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderexec_state_transitions_total",
			Help: "Total number of recorded order state transitions",
		},
		[]string{"from", "to"},
	)

	ActiveOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderexec_active_orders",
			Help: "Number of non-terminal orders tracked by the lifecycle manager",
		},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderexec_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderexec_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(MonitoredConditions, SweepLatency, TriggersFired, QuoteFailures, ExecutionFailures)
	prometheus.MustRegister(StateTransitions, ActiveOrders)
	prometheus.MustRegister(DBOpenConns, DBInUseConns)
}
