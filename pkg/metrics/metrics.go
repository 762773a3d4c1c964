// Package metrics provides Prometheus metrics for the Sepal service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProjectsCreated tracks project creations per tenant
	ProjectsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sepal",
			Subsystem: "projects",
			Name:      "created_total",
			Help:      "Total number of projects created",
		},
		[]string{"tenant_id"},
	)

	// ProjectsDeleted tracks project soft deletions per tenant
	ProjectsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sepal",
			Subsystem: "projects",
			Name:      "deleted_total",
			Help:      "Total number of projects soft deleted",
		},
		[]string{"tenant_id"},
	)

	// ConditionReconciliations tracks condition reconciliation outcomes
	ConditionReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sepal",
			Subsystem: "conditions",
			Name:      "reconciliations_total",
			Help:      "Total number of capture condition reconciliations by result",
		},
		[]string{"result"},
	)

	// RecordedCacheRefreshes tracks projects whose recorded-session cache was
	// recomputed and written back during a list call
	RecordedCacheRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sepal",
			Subsystem: "projects",
			Name:      "recorded_cache_refreshes_total",
			Help:      "Total number of recorded-session cache rows written back",
		},
	)

	// AuthorizationDenials tracks project mutations rejected by the gate
	AuthorizationDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sepal",
			Subsystem: "projects",
			Name:      "authorization_denials_total",
			Help:      "Total number of project mutations denied by the authorization gate",
		},
		[]string{"tenant_id", "operation"},
	)
)
