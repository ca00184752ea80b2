package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tokenRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "token",
		Name:      "refresh_total",
		Help:      "Refresh grant attempts grouped by outcome (refreshed, rejected, persist_failed).",
	}, []string{"outcome"})

	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Sync runs grouped by provider and outcome.",
	}, []string{"provider", "outcome"})

	reconcileCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "reconcile",
		Name:      "batches_total",
		Help:      "Reconcile calls grouped by outcome (persisted, degraded, noop).",
	}, []string{"outcome"})

	upsertedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "reconcile",
		Name:      "activities_upserted_total",
		Help:      "Number of activity rows written by the reconciler.",
	})

	lastPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity upsert.",
	})

	connectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "connection",
		Name:      "actions_total",
		Help:      "Connect and disconnect actions grouped by provider, action and outcome.",
	}, []string{"provider", "action", "outcome"})
)

func init() {
	prometheus.MustRegister(tokenRefreshCounter, syncCounter, reconcileCounter, upsertedCounter, lastPersistGauge, connectionCounter)
}

// RecordTokenRefresh counts a refresh attempt.
func RecordTokenRefresh(outcome string) {
	tokenRefreshCounter.WithLabelValues(outcome).Inc()
}

// RecordSync counts a sync run.
func RecordSync(provider, outcome string) {
	syncCounter.WithLabelValues(provider, outcome).Inc()
}

// RecordReconcile counts a reconcile call.
func RecordReconcile(outcome string) {
	reconcileCounter.WithLabelValues(outcome).Inc()
}

// RecordActivitiesPersisted adds n upserted rows and moves the watermark gauge.
func RecordActivitiesPersisted(n int, ts time.Time) {
	if n <= 0 {
		return
	}
	upsertedCounter.Add(float64(n))
	if !ts.IsZero() {
		lastPersistGauge.Set(float64(ts.Unix()))
	}
}

// RecordConnection counts a connect/disconnect action.
func RecordConnection(provider, action, outcome string) {
	connectionCounter.WithLabelValues(provider, action, outcome).Inc()
}
