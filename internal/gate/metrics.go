package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replyengine",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Gate decisions by action and reason",
	}, []string{"action", "reason"})

	probabilityHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replyengine",
		Subsystem: "gate",
		Name:      "interest_probability",
		Help:      "Interest probability of scored group messages",
		Buckets:   prometheus.LinearBuckets(0.05, 0.05, 19),
	})

	latencyHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replyengine",
		Subsystem: "gate",
		Name:      "latency_seconds",
		Help:      "Local gate evaluation latency",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})
)

var tracer = otel.Tracer("replyengine.gate")
