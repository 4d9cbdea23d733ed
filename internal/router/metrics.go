package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "router",
		Name:      "resolutions_total",
		Help:      "Resolved questions by tier and terminal state.",
	}, []string{"tier", "state"})

	resolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ffagent",
		Subsystem: "router",
		Name:      "resolution_duration_seconds",
		Help:      "End-to-end resolution latency by answering tier.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"tier"})

	cacheSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "router",
		Name:      "cache_skips_total",
		Help:      "Resolutions that bypassed the cache tier because embedding failed.",
	})

	proposalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "router",
		Name:      "pattern_proposals_total",
		Help:      "Auto patterns written to the cache after generative resolutions.",
	})
)
