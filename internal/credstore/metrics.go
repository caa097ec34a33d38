package credstore

import "github.com/prometheus/client_golang/prometheus"

var (
	persistFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermohub_credstore_persist_failure_total",
			Help: "Failed credential store writes",
		},
		[]string{"target"},
	)
	remotePersistOK = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermohub_credstore_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
	)
)

// MetricsCollectors returns collectors for the credential store.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{persistFailure, remotePersistOK}
}
