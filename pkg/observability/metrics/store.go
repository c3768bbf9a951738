package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeNotReady = "not_ready"
	OutcomeFailure  = "failure"
)

var (
	// storeOperationDuration tracks adapter operation latency.
	// Labels: collection, operation
	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grantstore_operation_duration_seconds",
			Help:    "Grant store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)

	// storeOperationsTotal counts adapter operations.
	// Labels: collection, operation, outcome
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantstore_operations_total",
			Help: "Total number of grant store operations",
		},
		[]string{"collection", "operation", "outcome"},
	)

	indexProvisioningTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantstore_index_provisioning_total",
			Help: "Index provisioning attempts per collection",
		},
		[]string{"collection", "outcome"},
	)

	cascadeDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantstore_cascade_deleted_documents_total",
			Help: "Documents removed by grant cascade deletes",
		},
		[]string{"collection"},
	)

	storeReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grantstore_ready",
			Help: "1 once the storage connection is established",
		},
	)
)

// RecordOperation records the outcome and latency of one adapter operation.
func RecordOperation(collection, operation, outcome string, duration time.Duration) {
	storeOperationDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(collection, operation, outcome).Inc()
}

// RecordIndexProvisioning records one index provisioning attempt.
func RecordIndexProvisioning(collection string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	indexProvisioningTotal.WithLabelValues(collection, outcome).Inc()
}

// AddCascadeDeleted adds n to the cascade counter of collection.
func AddCascadeDeleted(collection string, n int64) {
	if n <= 0 {
		return
	}
	cascadeDeletedTotal.WithLabelValues(collection).Add(float64(n))
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		storeReady.Set(1)
		return
	}
	storeReady.Set(0)
}
