package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "notifications_processed_total",
		Help:      "Number of webhook notifications successfully handled.",
	}, []string{"topic", "kind"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and notification kind.",
	}, []string{"topic", "kind"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastNotificationGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "last_notification_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed notification per topic.",
	}, []string{"topic"})

	redrivenCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "redriven_total",
		Help:      "Number of failed webhook events successfully re-driven.",
	}, []string{"kind"})

	quarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "webhook",
		Name:      "quarantined_total",
		Help:      "Number of webhook events quarantined after exhausting retries.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter,
		lastNotificationGauge, redrivenCounter, quarantinedCounter)
}

func recordProcessed(event Notification) {
	processedCounter.WithLabelValues(event.Topic, event.Kind).Inc()
	if !event.Timestamp.IsZero() {
		lastNotificationGauge.WithLabelValues(event.Topic).Set(float64(event.Timestamp.Unix()))
	}
}

func recordHandlerError(event Notification) {
	handlerErrorCounter.WithLabelValues(event.Topic, event.Kind).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordRedriven(kind string) {
	redrivenCounter.WithLabelValues(kind).Inc()
}

func recordQuarantined(kind string) {
	quarantinedCounter.WithLabelValues(kind).Inc()
}
