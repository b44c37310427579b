// Package observability holds the cross-cutting freshness gauges exposed by
// every pointsd binary.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "points_service",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted to Postgres.",
	})
	userSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "points_service",
		Subsystem: "syncer",
		Name:      "last_user_synced_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed user sync.",
	})
	webhookProcessedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "last_event_processed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed webhook event.",
	})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, userSyncedGauge, webhookProcessedGauge)
}

// RecordActivityPersisted updates the persistence freshness gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordUserSynced updates the sync freshness gauge.
func RecordUserSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	userSyncedGauge.Set(float64(ts.Unix()))
}

// RecordWebhookProcessed updates the webhook freshness gauge.
func RecordWebhookProcessed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	webhookProcessedGauge.Set(float64(ts.Unix()))
}
