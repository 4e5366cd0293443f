package adjudicate

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/replyengine/internal/envelope"
)

const dedupMaxTokens = 96

// DedupAdjudicator judges whether a candidate outgoing message repeats one
// already sent.
type DedupAdjudicator struct {
	c caller
}

func NewDedupAdjudicator(d Deps) *DedupAdjudicator {
	return &DedupAdjudicator{c: newCaller("dedup", d)}
}

// Decide returns nil when it has no opinion: either text is blank after
// trimming, or the call or parse failed. Callers then use their own
// similarity check.
func (a *DedupAdjudicator) Decide(ctx context.Context, base, candidate string) *envelope.DedupDecision {
	ctx, span := tracer.Start(ctx, "adjudicate.Dedup")
	defer span.End()

	base, candidate = strings.TrimSpace(base), strings.TrimSpace(candidate)
	if base == "" || candidate == "" {
		outcomesTotal.WithLabelValues(a.c.name, outcomeSkipped).Inc()
		span.SetAttributes(attribute.String("outcome", outcomeSkipped))
		return nil
	}

	msgs := append(a.c.systemMessages(PromptReplyDedup, false), userMessage(BuildDedupInput(base, candidate)))
	raw, err := a.c.chat(ctx, msgs, callOpts{maxTokens: dedupMaxTokens, temperature: temp(0), timeout: a.c.Settings().Timeout()})
	if err != nil {
		a.c.finish(span, err, "")
		return nil
	}

	d, err := envelope.ParseDedupDecision(raw)
	a.c.finish(span, err, raw)
	if err != nil {
		return nil
	}
	span.SetAttributes(attribute.Bool("are_similar", d.AreSimilar))
	return &d
}

// BuildDedupInput renders the <send_dedup_input> envelope.
func BuildDedupInput(base, candidate string) string {
	return envelope.NewBuilder("send_dedup_input").
		Text("base_text", base).
		Text("candidate_text", candidate).
		String()
}
