package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wart_streams_active",
			Help: "Number of streaming runs currently open.",
		},
	)

	runRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wart_run_requests_total",
			Help: "Total number of streaming-run requests, by final status.",
		},
		[]string{"status"},
	)

	sessionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wart_sessions_opened_total",
			Help: "Total number of sessions opened.",
		},
	)
)

func init() {
	prometheus.MustRegister(streamsActive)
	prometheus.MustRegister(runRequestsTotal)
	prometheus.MustRegister(sessionsOpenedTotal)
}
