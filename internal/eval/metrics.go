package eval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weakscan_eval_queries_total",
			Help: "Engine queries by outcome (ok, retry, timeout, unavailable, cancelled)",
		},
		[]string{"result"},
	)

	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weakscan_eval_query_duration_seconds",
			Help:    "Wall time of a single engine query",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weakscan_eval_cache_lookups_total",
			Help: "Evaluation cache lookups by result (hit, miss, shared, corrupt)",
		},
		[]string{"result"},
	)

	sessionRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weakscan_eval_session_restarts_total",
			Help: "Engine sessions replaced after a failure",
		},
	)
)
