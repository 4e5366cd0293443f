package envelope

import "strings"

// Envelope tags produced by decision models.
const (
	TagReplyDecision    = "sentra-reply-decision"
	TagDedupDecision    = "sentra-dedup-decision"
	TagOverrideDecision = "sentra-override-decision"
	TagTools            = "sentra-tools"
	TagResponse         = "sentra-response"
)

// Priority of a reply.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ReplyDecision is the reply adjudicator verdict.
type ReplyDecision struct {
	ShouldReply bool     `json:"should_reply"`
	Confidence  float64  `json:"confidence"`
	Priority    Priority `json:"priority"`
	ShouldQuote bool     `json:"should_quote"`
	Reason      string   `json:"reason"`
}

// DedupDecision is the send-dedup adjudicator verdict.
type DedupDecision struct {
	AreSimilar bool     `json:"are_similar"`
	Similarity *float64 `json:"similarity"` // nil when the model gave none
	Reason     string   `json:"reason"`
}

// Relation between a new message and an in-flight task.
type Relation string

const (
	RelationOverride  Relation = "override"
	RelationAppend    Relation = "append"
	RelationRefine    Relation = "refine"
	RelationUnrelated Relation = "unrelated"
)

// OverrideDecision is the override adjudicator verdict.
type OverrideDecision struct {
	Relation     Relation `json:"relation"`
	ShouldCancel bool     `json:"should_cancel"`
	Confidence   float64  `json:"confidence"`
	Reason       string   `json:"reason"`
}

// ParseReplyDecision decodes a <sentra-reply-decision> block. should_reply is
// required; missing confidence defaults to 1 when replying and 0 otherwise.
func ParseReplyDecision(raw string) (ReplyDecision, error) {
	b, err := Extract(raw, TagReplyDecision)
	if err != nil {
		return ReplyDecision{}, err
	}
	should, ok := b.Bool("should_reply", ReplyBools)
	if !ok {
		return ReplyDecision{}, newParseError(TagReplyDecision, "invalid or missing <should_reply> (expect true/false)", raw)
	}

	d := ReplyDecision{ShouldReply: should}
	if c, ok := b.Unit("confidence"); ok {
		d.Confidence = c
	} else if should {
		d.Confidence = 1
	}
	d.Priority = Priority(b.Enum("priority", []string{"low", "normal", "high"}, string(PriorityNormal)))
	d.ShouldQuote, _ = b.Bool("should_quote", ReplyBools)
	d.Reason = b.Text("reason")
	if d.Reason == "" {
		if should {
			d.Reason = "model decided to reply"
		} else {
			d.Reason = "model decided not to reply"
		}
	}
	return d, nil
}

// ParseDedupDecision decodes a <sentra-dedup-decision> block. are_similar is required.
func ParseDedupDecision(raw string) (DedupDecision, error) {
	b, err := Extract(raw, TagDedupDecision)
	if err != nil {
		return DedupDecision{}, err
	}
	similar, ok := b.Bool("are_similar", StrictBools)
	if !ok {
		return DedupDecision{}, newParseError(TagDedupDecision, "invalid or missing <are_similar> (expect true/false)", raw)
	}
	d := DedupDecision{AreSimilar: similar, Reason: b.Text("reason")}
	if s, ok := b.Unit("similarity"); ok {
		d.Similarity = &s
	}
	if d.Reason == "" {
		if similar {
			d.Reason = "model judged the candidate a duplicate"
		} else {
			d.Reason = "model judged the candidate distinct"
		}
	}
	return d, nil
}

// ParseOverrideDecision decodes a <sentra-override-decision> block.
// should_cancel is required; relation defaults to append and confidence to 0.8.
func ParseOverrideDecision(raw string) (OverrideDecision, error) {
	b, err := Extract(raw, TagOverrideDecision)
	if err != nil {
		return OverrideDecision{}, err
	}
	cancel, ok := b.Bool("should_cancel", StrictBools)
	if !ok {
		return OverrideDecision{}, newParseError(TagOverrideDecision, "invalid or missing <should_cancel> (expect true/false)", raw)
	}
	d := OverrideDecision{
		ShouldCancel: cancel,
		Relation:     Relation(b.Enum("relation", []string{"override", "append", "refine", "unrelated"}, string(RelationAppend))),
		Confidence:   0.8,
		Reason:       b.Text("reason"),
	}
	if c, ok := b.Unit("confidence"); ok {
		d.Confidence = c
	}
	if d.Reason == "" {
		if cancel {
			d.Reason = "model decided to cancel the running task"
		} else {
			d.Reason = "model decided to keep the running task"
		}
	}
	return d, nil
}

// RouteKind tells which block a routing response chose.
type RouteKind string

const (
	RouteTools RouteKind = "tools"
	RouteReply RouteKind = "reply"
)

// Param is one named tool parameter.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Invocation is one <invoke> of a tool.
type Invocation struct {
	Name   string  `json:"name"`
	Params []Param `json:"params,omitempty"`
}

// Routing is the outcome of a tool routing response.
type Routing struct {
	Kind         RouteKind    `json:"kind"`
	ToolsPayload string       `json:"tools_payload,omitempty"` // the raw <sentra-tools> block
	Invocations  []Invocation `json:"invocations,omitempty"`
	Text         string       `json:"text,omitempty"`   // inner text of <sentra-response>
	Silent       bool         `json:"silent,omitempty"` // empty <sentra-response>
}

// ParseRouting decodes a response that must hold exactly one of
// <sentra-tools> (with at least one named invoke) or <sentra-response>.
func ParseRouting(raw string) (Routing, error) {
	tools, hasTools := Find(raw, TagTools)
	var invs []Invocation
	if hasTools {
		invs = Invocations(tools)
	}
	resp, hasResp := Find(raw, TagResponse)

	switch {
	case len(invs) > 0 && hasResp:
		return Routing{}, newParseError(TagTools, "both <sentra-tools> and <sentra-response> present", raw)
	case len(invs) > 0:
		return Routing{Kind: RouteTools, ToolsPayload: tools.Raw, Invocations: invs}, nil
	case hasResp:
		text := strings.TrimSpace(resp.Inner)
		return Routing{Kind: RouteReply, Text: text, Silent: text == ""}, nil
	case hasTools:
		return Routing{}, newParseError(TagTools, "<sentra-tools> without any named <invoke>", raw)
	}
	return Routing{}, newParseError(TagResponse, "missing <sentra-tools> or <sentra-response> block", raw)
}

// Invocations lists the named <invoke> elements of a tools block.
func Invocations(tools Block) []Invocation {
	var out []Invocation
	for _, inv := range FindAll(tools.Inner, "invoke") {
		name := strings.TrimSpace(inv.Attr("name"))
		if name == "" {
			continue
		}
		call := Invocation{Name: name}
		for _, p := range FindAll(inv.Inner, "parameter") {
			pn := strings.TrimSpace(p.Attr("name"))
			if pn == "" {
				continue
			}
			call.Params = append(call.Params, Param{Name: pn, Value: Unescape(strings.TrimSpace(p.Inner))})
		}
		out = append(out, call)
	}
	return out
}
