package protocol

// ProtocolVersion is bumped on incompatible wire changes.
const ProtocolVersion = 1

// HTTP routes served by `replyengine serve`.
const (
	// Local funnel
	RouteGate         = "/v1/gate"
	RouteScoringModel = "/v1/scoring-model"

	// Adjudicators
	RouteReplyDecision    = "/v1/decisions/reply"
	RouteDedupDecision    = "/v1/decisions/dedup"
	RouteOverrideDecision = "/v1/decisions/override"
	RouteToolRouting      = "/v1/decisions/route"

	// Counters
	RouteCounters    = "/v1/counters/{key}"
	RouteRecordReply = "/v1/counters/replies"

	// System
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
