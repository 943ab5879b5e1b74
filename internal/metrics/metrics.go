// Package metrics holds the Prometheus collectors exported by hoard.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TaskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hoard",
			Name:      "task_transitions_total",
			Help:      "Count of task state transitions, by target status.",
		},
		[]string{"status"},
	)

	RequestRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hoard",
			Name:      "request_retries_total",
			Help:      "Retried HTTP attempts, by request kind.",
		},
		[]string{"kind"},
	)

	ChunkBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hoard",
			Name:      "chunk_bytes_total",
			Help:      "Bytes received in range responses and persisted.",
		},
	)

	InflightFetches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hoard",
			Name:      "inflight_fetches",
			Help:      "Fetchers currently inside their chunk loop.",
		},
	)

	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hoard",
			Name:      "batches_total",
			Help:      "Settled batch runs, by result.",
		},
		[]string{"result"},
	)

	ConnectivitySignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hoard",
			Name:      "connectivity_signals_total",
			Help:      "Connectivity lost/restored signals handled by the monitor.",
		},
		[]string{"signal"},
	)
)

// Register registers the hoard collectors into reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(TaskTransitions, RequestRetries, ChunkBytes, InflightFetches, Batches, ConnectivitySignals)
}
