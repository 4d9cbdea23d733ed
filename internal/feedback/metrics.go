package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ffagent",
		Subsystem: "feedback",
		Name:      "events_total",
		Help:      "Ingested feedback events by verdict.",
	}, []string{"verdict"})

	correctionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ffagent",
		Subsystem: "feedback",
		Name:      "corrections",
		Help:      "Corrections accumulated toward the retrain threshold.",
	})
)
