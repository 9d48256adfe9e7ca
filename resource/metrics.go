package resource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeMissing = "missing"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "designbench",
		Subsystem: "resource",
		Name:      "fetch_total",
		Help:      "Resource fetches by outcome (success, failure, missing).",
	}, []string{"outcome"})

	fetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "designbench",
		Subsystem: "resource",
		Name:      "fetched_bytes_total",
		Help:      "Bytes written by successful resource fetches.",
	})
)
