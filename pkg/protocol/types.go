package protocol

import (
	"github.com/nextlevelbuilder/replyengine/internal/adjudicate"
	"github.com/nextlevelbuilder/replyengine/internal/envelope"
	"github.com/nextlevelbuilder/replyengine/internal/gate"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
	"github.com/nextlevelbuilder/replyengine/internal/store"
)

// GateRequest asks the local funnel about one message.
type GateRequest struct {
	Message message.Message `json:"message"`
	Signals message.Signals `json:"signals"`
	History message.History `json:"history"`
	// FillSignals fills counter-derived signals from the server's counter store.
	FillSignals   bool     `json:"fill_signals,omitempty"`
	LowThreshold  *float64 `json:"low_threshold,omitempty"`
	HighThreshold *float64 `json:"high_threshold,omitempty"`
	Debug         bool     `json:"debug,omitempty"`
}

// GateResponse wraps the gate verdict.
type GateResponse struct {
	Decision gate.Decision `json:"decision"`
}

// ReplyDecisionRequest asks the reply adjudicator. Policy defaults to the
// server's configured policy when omitted.
type ReplyDecisionRequest struct {
	Message     message.Message `json:"message"`
	Signals     message.Signals `json:"signals"`
	History     message.History `json:"history"`
	FillSignals bool            `json:"fill_signals,omitempty"`
	// SkipGate sends the message to the adjudicator even when the gate ignores it.
	SkipGate bool `json:"skip_gate,omitempty"`
}

// ReplyDecisionResponse carries the gate verdict and, when escalated, the
// adjudicator decision.
type ReplyDecisionResponse struct {
	Gate     *gate.Decision          `json:"gate,omitempty"`
	Decision *envelope.ReplyDecision `json:"decision,omitempty"` // nil when the gate ignored the message
}

// DedupDecisionRequest compares a candidate outgoing text with a sent one.
type DedupDecisionRequest struct {
	BaseText      string `json:"base_text"`
	CandidateText string `json:"candidate_text"`
}

// DedupDecisionResponse has a nil Decision when the adjudicator has no opinion.
type DedupDecisionResponse struct {
	Decision *envelope.DedupDecision `json:"decision"`
}

// OverrideDecisionRequest is adjudicate.OverrideInput on the wire.
type OverrideDecisionRequest = adjudicate.OverrideInput

// OverrideDecisionResponse has a nil Decision on failure: keep the running task.
type OverrideDecisionResponse struct {
	Decision *envelope.OverrideDecision `json:"decision"`
}

// ToolRoutingRequest routes one turn.
type ToolRoutingRequest struct {
	Conversation          []providers.Message `json:"conversation,omitempty"`
	UserContent           string              `json:"user_content"`
	OriginalRootDirective string              `json:"original_root_directive,omitempty"`
	Scope                 string              `json:"scope,omitempty"`
	TimeoutMs             int                 `json:"timeout_ms,omitempty"`
}

// ToolRoutingResponse has a nil Outcome on timeout or malformed output.
type ToolRoutingResponse struct {
	Outcome *envelope.Routing `json:"outcome"`
}

// RecordReplyRequest records that the orchestrator sent a reply to msg.
type RecordReplyRequest struct {
	Message message.Message `json:"message"`
}

// CountersResponse returns the stored counters of one key.
type CountersResponse struct {
	Key      string         `json:"key"`
	Counters store.Counters `json:"counters"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
