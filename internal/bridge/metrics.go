package bridge

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
)

var (
	dispatcherQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wart_dispatcher_queue_depth",
			Help: "Number of query requests waiting for a dispatcher worker.",
		},
	)

	dispatcherRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wart_dispatcher_requests_total",
			Help: "Total number of query requests handled by the dispatcher, by outcome.",
		},
		[]string{"op", "outcome"},
	)

	dispatcherRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wart_dispatcher_request_seconds",
			Help:    "Query request execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(dispatcherQueueDepth)
	prometheus.MustRegister(dispatcherRequestsTotal)
	prometheus.MustRegister(dispatcherRequestDuration)
}
