package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	syncedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "syncer",
		Name:      "activities_synced_total",
		Help:      "Number of activities fetched, persisted, and scored.",
	})

	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "syncer",
		Name:      "activities_skipped_total",
		Help:      "Number of listed activities skipped before a detail fetch.",
	})

	errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "syncer",
		Name:      "activity_errors_total",
		Help:      "Number of per-activity failures logged and skipped.",
	})
)

func init() {
	prometheus.MustRegister(syncedCounter, skippedCounter, errorCounter)
}

func recordSyncResult(res Result) {
	syncedCounter.Add(float64(res.Synced))
	skippedCounter.Add(float64(res.Skipped))
	errorCounter.Add(float64(res.Errors))
}
