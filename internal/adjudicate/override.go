package adjudicate

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/replyengine/internal/envelope"
	"github.com/nextlevelbuilder/replyengine/internal/message"
)

const (
	overrideMaxTokens = 128
	// OverrideHistory is how many previous messages are sent to the model.
	OverrideHistory = 5
)

// TaskMessage is one message of a conversation with a running task.
type TaskMessage struct {
	Text    string `json:"text,omitempty"`
	Summary string `json:"summary,omitempty"`
	Time    string `json:"time,omitempty"`
}

func (m TaskMessage) content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Summary
}

// OverrideInput describes a new message arriving while a task runs.
type OverrideInput struct {
	Scene        message.Scene `json:"scene,omitempty"`
	SenderID     string        `json:"sender_id"`
	GroupID      string        `json:"group_id,omitempty"`
	PrevMessages []TaskMessage `json:"prev_messages,omitempty"` // oldest first
	NewMessage   TaskMessage   `json:"new_message"`
}

// OverrideAdjudicator classifies how a new message relates to the running
// task and whether that task should be cancelled.
type OverrideAdjudicator struct {
	c caller
}

func NewOverrideAdjudicator(d Deps) *OverrideAdjudicator {
	return &OverrideAdjudicator{c: newCaller("override", d)}
}

// Decide returns nil on any failure, which callers must treat as "keep the
// running task".
func (a *OverrideAdjudicator) Decide(ctx context.Context, in OverrideInput) *envelope.OverrideDecision {
	ctx, span := tracer.Start(ctx, "adjudicate.Override")
	defer span.End()

	msgs := append(a.c.systemMessages(PromptReplyOverride, false), userMessage(BuildOverrideInput(in)))
	raw, err := a.c.chat(ctx, msgs, callOpts{maxTokens: overrideMaxTokens, temperature: temp(0), timeout: a.c.Settings().Timeout()})
	if err != nil {
		a.c.finish(span, err, "")
		return nil
	}

	d, err := envelope.ParseOverrideDecision(raw)
	a.c.finish(span, err, raw)
	if err != nil {
		return nil
	}
	span.SetAttributes(
		attribute.String("relation", string(d.Relation)),
		attribute.Bool("should_cancel", d.ShouldCancel),
	)
	return &d
}

// BuildOverrideInput renders the <override_decision_input> envelope. Only the
// last OverrideHistory previous messages are kept; blank ones are skipped.
func BuildOverrideInput(in OverrideInput) string {
	scene := in.Scene
	if scene == "" {
		scene = message.SceneUnknown
	}
	prev := in.PrevMessages
	if len(prev) > OverrideHistory {
		prev = prev[len(prev)-OverrideHistory:]
	}

	b := envelope.NewBuilder("override_decision_input").
		Text("scene", string(scene)).
		Text("sender_id", in.SenderID).
		Text("group_id", in.GroupID)

	b.Open("prev_messages")
	for _, m := range prev {
		if m.content() == "" {
			continue
		}
		b.Open("message").Text("text", m.content()).Text("time", m.Time).Close()
	}
	b.Close()

	b.Open("new_message").
		Text("text", in.NewMessage.content()).
		Text("time", in.NewMessage.Time).
		Close()
	return b.String()
}
