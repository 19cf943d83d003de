package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Partition metrics
	PartitionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_partitions_total",
			Help: "Total number of partitions owned by this node by role",
		},
		[]string{"role"},
	)

	PartitionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerd_partition_transitions_total",
			Help: "Total number of partition role transitions by target role and outcome",
		},
		[]string{"role", "outcome"},
	)

	PartitionTransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_partition_transition_duration_seconds",
			Help:    "Time taken to install or tear down a partition's role-specific services",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	// Raft metrics, one series per partition
	RaftTerm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_raft_term",
			Help: "Current Raft term observed by a partition",
		},
		[]string{"partition_id"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_raft_applied_index",
			Help: "Last Raft log index applied to a partition's state controller",
		},
		[]string{"partition_id"},
	)

	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition_id"},
	)

	// State controller / snapshot metrics
	SnapshotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_snapshots_total",
			Help: "Number of persisted snapshots currently retained, by partition",
		},
		[]string{"partition_id"},
	)

	SnapshotBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_snapshot_bytes",
			Help: "Size in bytes of the most recently persisted snapshot, by partition",
		},
		[]string{"partition_id"},
	)

	SnapshotCompactionBound = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_snapshot_compaction_bound",
			Help: "Compaction bound (minimum of processed and exported position) of the latest persisted snapshot",
		},
		[]string{"partition_id"},
	)

	SnapshotTakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_snapshot_take_duration_seconds",
			Help:    "Time taken to construct a transient snapshot from the local KV database",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition_id"},
	)

	SnapshotPersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_snapshot_persist_duration_seconds",
			Help:    "Time taken to atomically persist a transient snapshot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition_id"},
	)

	DBOpenDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_db_open_duration_seconds",
			Help:    "Time taken to open a partition's local KV database",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition_id"},
	)

	RecoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_recovery_duration_seconds",
			Help:    "Time taken to recover a partition's state controller from its latest snapshot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition_id"},
	)

	// Startup process metrics, shared by process-wide bring-up and each
	// partition actor's own bring-up
	StartupStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_startup_step_duration_seconds",
			Help:    "Time taken by a single startup or shutdown step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"process", "step", "phase"},
	)

	// Health metrics
	HealthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerd_health_state",
			Help: "Aggregate health state reported by the node (0=healthy, 1=degraded, 2=unhealthy, 3=dead)",
		},
		[]string{"component"},
	)

	// Gateway metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerd_gateway_requests_total",
			Help: "Total number of gateway requests by method and status",
		},
		[]string{"method", "status"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerd_gateway_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(PartitionsTotal)
	prometheus.MustRegister(PartitionTransitionsTotal)
	prometheus.MustRegister(PartitionTransitionDuration)

	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(SnapshotBytes)
	prometheus.MustRegister(SnapshotCompactionBound)
	prometheus.MustRegister(SnapshotTakeDuration)
	prometheus.MustRegister(SnapshotPersistDuration)
	prometheus.MustRegister(DBOpenDuration)
	prometheus.MustRegister(RecoveryDuration)

	prometheus.MustRegister(StartupStepDuration)
	prometheus.MustRegister(HealthState)

	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStartupStep records how long a single startup or shutdown step of a
// named process took. phase is "startup" or "shutdown".
func ObserveStartupStep(process, step, phase string, d time.Duration) {
	StartupStepDuration.WithLabelValues(process, step, phase).Observe(d.Seconds())
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
