// Package metrics exposes prometheus counters for ledger operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	IngestTotal *prometheus.CounterVec
	QueryErrors *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		IngestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapmeta",
			Name:      "usage_ingest_total",
			Help:      "Usage ingest attempts by model and outcome.",
		}, []string{"model", "status"}),
		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snapmeta",
			Name:      "usage_query_errors_total",
			Help:      "Ledger read operations that returned a storage error.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordIngest(model, status string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(model, status).Inc()
}

func (m *Metrics) RecordQueryError(operation string) {
	if m == nil {
		return
	}
	m.QueryErrors.WithLabelValues(operation).Inc()
}
