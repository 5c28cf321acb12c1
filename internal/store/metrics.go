package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "modledger_store_call_duration_seconds",
	Help:    "Latency of document store calls",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
}, []string{"backend", "call"})

var storeCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_store_call_errors_total",
	Help: "Document store calls that returned an error, by kind",
}, []string{"backend", "call", "kind"})

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPartialBatchFailure):
		return "partial_batch"
	case errors.Is(err, ErrNoDocument):
		return "no_document"
	case errors.Is(err, ErrNotArray):
		return "not_array"
	default:
		return "other"
	}
}
