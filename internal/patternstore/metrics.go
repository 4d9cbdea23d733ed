package patternstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "patternstore",
		Name:      "upserts_total",
		Help:      "Pattern upserts by provenance.",
	}, []string{"provenance"})

	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "patternstore",
		Name:      "lookups_total",
		Help:      "Threshold lookups by outcome (hit, candidates, empty).",
	}, []string{"outcome"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "patternstore",
		Name:      "outcomes_total",
		Help:      "Recorded pattern outcomes by result.",
	}, []string{"result"})

	storeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ffagent",
		Subsystem: "patternstore",
		Name:      "patterns",
		Help:      "Number of stored patterns.",
	})

	flaggedCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ffagent",
		Subsystem: "patternstore",
		Name:      "flagged_patterns",
		Help:      "Patterns currently below the low-performer floor.",
	})
)
