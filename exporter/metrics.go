package exporter

import "github.com/prometheus/client_golang/prometheus"

var (
	reloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "exporter",
		Name:      "reloads_total",
		Help:      "Export table reloads by result.",
	}, []string{"result"})

	reloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "exporter",
		Name:      "reload_duration_seconds",
		Help:      "Duration of successful reloads.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	MissingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "exporter",
		Name:      "missing_exports",
		Help:      "Registry grants absent from the kernel export table at the last reconcile.",
	})

	UnmanagedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "exporter",
		Name:      "unmanaged_exports",
		Help:      "Live clients on registry paths that the registry does not grant.",
	})
)

func init() {
	prometheus.MustRegister(
		reloadsTotal,
		reloadDuration,
		MissingGauge,
		UnmanagedGauge,
	)
}
