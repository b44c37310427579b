package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of response cache hits.",
	})

	missCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of response cache misses, including expired entries.",
	})

	sweptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "points_service",
		Subsystem: "cache",
		Name:      "entries_swept_total",
		Help:      "Number of expired entries removed by periodic sweeps.",
	})
)

func init() {
	prometheus.MustRegister(hitCounter, missCounter, sweptCounter)
}

func recordHit()  { hitCounter.Inc() }
func recordMiss() { missCounter.Inc() }

func recordSwept(n int) {
	if n > 0 {
		sweptCounter.Add(float64(n))
	}
}
