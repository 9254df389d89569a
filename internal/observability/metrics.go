package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "blobsync"

// transferBuckets spans a small simple upload up to a multi-gigabyte
// chunked one.
var transferBuckets = prometheus.ExponentialBuckets(0.005, 4, 10)

// Metrics is a private Prometheus registry and the meters the transfer
// engine updates.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesProcessed    *prometheus.CounterVec
	BlocksTransferred *prometheus.CounterVec
	TransfersTotal    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

// NewMetrics registers the blobsync meters plus the Go runtime and process
// collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of upload and download operations in seconds.",
			Buckets:   transferBuckets,
		}, []string{"operation", "status"}),
		OperationTotal:    counter("operation_total", "Operations by outcome.", "operation", "status"),
		BytesProcessed:    counter("bytes_processed_total", "Bytes moved between local files and the store.", "direction"),
		BlocksTransferred: counter("blocks_transferred_total", "Blocks uploaded or ranges downloaded on the chunked path.", "direction"),
		TransfersTotal:    counter("transfers_total", "Completed file transfers by strategy.", "direction", "strategy"),
		ErrorsTotal:       counter("errors_total", "Failed operations by error kind.", "operation", "type"),
	}
	m.Registry.MustRegister(
		m.OperationDuration,
		m.OperationTotal,
		m.BytesProcessed,
		m.BlocksTransferred,
		m.TransfersTotal,
		m.ErrorsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
