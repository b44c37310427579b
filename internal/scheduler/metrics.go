package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	sentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "scheduler",
		Name:      "requests_sent_total",
		Help:      "Number of upstream requests executed, labeled by kind.",
	}, []string{"kind"})

	retryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "scheduler",
		Name:      "requests_retried_total",
		Help:      "Number of failed requests re-queued with demoted priority.",
	}, []string{"kind"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "scheduler",
		Name:      "requests_dropped_total",
		Help:      "Number of requests dropped after exhausting retries.",
	}, []string{"kind"})

	throttledCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "scheduler",
		Name:      "throttle_waits_total",
		Help:      "Number of backoff sleeps taken while the window was exhausted.",
	})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "points_service",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Requests currently waiting in the priority queue.",
	})

	inWindowGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "points_service",
		Subsystem: "scheduler",
		Name:      "window_in_flight",
		Help:      "Calls counted against the current sliding window.",
	})
)

func init() {
	prometheus.MustRegister(sentCounter, retryCounter, droppedCounter, throttledCounter, queueDepthGauge, inWindowGauge)
}
