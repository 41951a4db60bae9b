package registry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "registry",
		Name:      "operations_total",
		Help:      "Registry operations by operation and result.",
	}, []string{"op", "result"})

	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "registry",
		Name:      "operation_duration_seconds",
		Help:      "Duration of a full registry operation including reload.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"op"})

	RecordsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "registry",
		Name:      "records",
		Help:      "Number of export records after the last load or save.",
	})

	ParseWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nfs_exports_registry",
		Subsystem: "registry",
		Name:      "parse_warnings_total",
		Help:      "Records skipped while decoding the exports file.",
	})
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		RecordsGauge,
		ParseWarningsTotal,
	)
}

// observe is deferred with a pointer to the named error result.
func observe(op string, start time.Time, errp *error) {
	err := *errp
	result := "success"
	if err != nil {
		result = "error"
		if code := CodeOf(err); code != "" {
			result = strings.ToLower(code)
		}
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
