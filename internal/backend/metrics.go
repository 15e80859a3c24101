package backend

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for call outcomes.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var graphMethods = []string{"ChoiceNodes", "FetchNode", "FetchNeighbors"}

var (
	graphCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wart_graph_calls_total",
			Help: "Total number of graph storage calls.",
		},
		[]string{"method", "outcome"},
	)

	graphCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wart_graph_call_seconds",
			Help:    "Graph storage call duration including connection acquisition, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(graphCallsTotal)
	prometheus.MustRegister(graphCallDuration)

	for _, m := range graphMethods {
		graphCallsTotal.WithLabelValues(m, outcomeOK)
		graphCallsTotal.WithLabelValues(m, outcomeError)
	}
}
