package adjudicate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Outcome labels.
const (
	outcomeOK        = "ok"
	outcomeParse     = "parse_error"
	outcomeTransport = "transport_error"
	outcomeTimeout   = "timeout"
	outcomeDisabled  = "disabled"
	outcomeSkipped   = "skipped"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replyengine",
		Subsystem: "adjudicator",
		Name:      "outcomes_total",
		Help:      "Adjudicator calls by adjudicator and outcome",
	}, []string{"adjudicator", "outcome"})

	callLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replyengine",
		Subsystem: "adjudicator",
		Name:      "call_seconds",
		Help:      "Decision model call latency",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9),
	}, []string{"adjudicator"})
)

var tracer = otel.Tracer("replyengine.adjudicate")
