package sandbox

import "github.com/prometheus/client_golang/prometheus"

var (
	compileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wart_sandbox_compile_seconds",
			Help:    "Guest module compilation time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	modulesCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wart_sandbox_modules_cached",
			Help: "Number of compiled guest modules currently referenced.",
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wart_sandbox_runs_total",
			Help: "Total number of guest runs, by outcome.",
		},
		[]string{"outcome"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wart_sandbox_run_seconds",
			Help:    "Guest run time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	hostCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wart_sandbox_host_calls_total",
			Help: "Total number of host import calls made by guests.",
		},
		[]string{"import"},
	)

	epochTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wart_sandbox_epoch_ticks_total",
			Help: "Total number of epoch increments.",
		},
	)
)

func init() {
	prometheus.MustRegister(compileDuration)
	prometheus.MustRegister(modulesCached)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(hostCallsTotal)
	prometheus.MustRegister(epochTicksTotal)
}

// outcome labels a run for runsTotal.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if t, ok := err.(*Trap); ok {
		return string(t.Kind)
	}
	if _, ok := err.(*HostImportError); ok {
		return "host_import"
	}
	return "error"
}
