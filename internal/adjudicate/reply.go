package adjudicate

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/envelope"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
)

// ReplyInput is everything the reply adjudicator sees about one message.
type ReplyInput struct {
	Message message.Message
	Signals message.Signals
	History message.History
	// Policy is forwarded to the model; nil leaves the policy fields empty.
	Policy *config.PolicyConfig
}

// Fallback reasons.
const (
	ReasonTransportFailed = "LLM decision failed (timeout or API error), default no reply"
	ReasonDisabled        = "reply intervention disabled, default no reply"
	reasonParsePrefix     = "XML decision parse failed: "
)

// ReplyFallback is the fail-closed decision returned on any failure.
func ReplyFallback(reason string) envelope.ReplyDecision {
	return envelope.ReplyDecision{
		ShouldReply: false,
		Confidence:  0,
		Priority:    envelope.PriorityNormal,
		ShouldQuote: false,
		Reason:      reason,
	}
}

// ReplyAdjudicator decides whether an escalated message deserves a reply.
type ReplyAdjudicator struct {
	c caller
}

func NewReplyAdjudicator(d Deps) *ReplyAdjudicator {
	return &ReplyAdjudicator{c: newCaller("reply", d)}
}

// Decide asks the model and never fails: any error yields ReplyFallback.
func (a *ReplyAdjudicator) Decide(ctx context.Context, in ReplyInput) envelope.ReplyDecision {
	ctx, span := tracer.Start(ctx, "adjudicate.Reply")
	defer span.End()

	s := a.c.Settings()
	msgs := append(a.c.systemMessages(PromptReplyDecision, true), userMessage(BuildDecisionInput(in)))
	raw, err := a.c.chat(ctx, msgs, callOpts{maxTokens: s.MaxTokens, temperature: temp(0.1), timeout: s.Timeout()})

	var d envelope.ReplyDecision
	switch {
	case err != nil && classify(err) == outcomeDisabled:
		d = ReplyFallback(ReasonDisabled)
	case err != nil:
		d = ReplyFallback(ReasonTransportFailed)
	default:
		d, err = envelope.ParseReplyDecision(raw)
		if err != nil {
			d = ReplyFallback(reasonParsePrefix + err.Error())
		}
	}
	a.c.finish(span, err, raw)

	span.SetAttributes(
		attribute.Bool("should_reply", d.ShouldReply),
		attribute.Float64("confidence", d.Confidence),
		attribute.String("priority", string(d.Priority)),
	)
	return d
}

// BuildDecisionInput renders the <decision_input> envelope.
func BuildDecisionInput(in ReplyInput) string {
	msg := in.Message
	scene := msg.SceneOrUnknown()
	mf := messageFeaturesOf(msg)
	sig := in.Signals

	b := envelope.NewBuilder("decision_input").
		Text("scene", string(scene)).
		Open("sender").Text("id", msg.SenderID).Text("name", msg.SenderName).Close().
		Text("group_id", msg.GroupID).
		Open("message").Text("text", msg.Text).Text("summary", msg.Summary).Close()

	b.Open("message_features").
		Int("text_length", mf.TextLength).
		Int("summary_length", mf.SummaryLength).
		Bool("has_question_mark", mf.HasQuestionMark).
		Bool("has_url", mf.HasURL).
		Bool("has_at_symbol", mf.HasAtSymbol).
		Close()

	b.Open("signals").
		Bool("is_group", scene == message.SceneGroup).
		Bool("is_private", scene == message.ScenePrivate).
		Bool("mentioned_by_at", sig.MentionedByAt).
		Bool("mentioned_by_name", sig.MentionedByName).
		Text("mentioned_names", strings.Join(sig.MentionedNames, ",")).
		Float("senderReplyCountWindow", &sig.SenderReplyCountWindow).
		Float("groupReplyCountWindow", &sig.GroupReplyCountWindow).
		Float("senderFatigue", &sig.SenderFatigue).
		Float("groupFatigue", &sig.GroupFatigue).
		Float("senderLastReplyAgeSec", sig.SenderLastReplyAgeSec).
		Float("groupLastReplyAgeSec", sig.GroupLastReplyAgeSec).
		Bool("is_followup_after_bot_reply", sig.IsFollowupAfterBotReply)
	if sig.ActiveTaskCount != nil {
		b.Int("activeTaskCount", *sig.ActiveTaskCount)
	} else {
		b.Text("activeTaskCount", "")
	}
	b.Close()

	writePolicy(b, in.Policy)

	b.Open("context")
	writeRecent(b, "group_recent_messages", in.History.GroupRecent)
	writeRecent(b, "sender_recent_messages", in.History.SenderRecent)
	b.Close()

	b.Raw("payload_json", payloadJSON(in, mf))
	return b.String()
}

func writePolicy(b *envelope.Builder, p *config.PolicyConfig) {
	b.Open("policy_config")
	if p == nil {
		b.Bool("mention_must_reply", false).Text("followup_window_sec", "")
		b.Open("attention").Bool("enabled", false).Text("window_ms", "").Text("max_senders", "").Close()
		for _, name := range []string{"user_fatigue", "group_fatigue"} {
			b.Open(name).Bool("enabled", false)
			for _, k := range []string{"window_ms", "base_limit", "min_interval_ms", "backoff_factor", "max_backoff_multiplier"} {
				b.Text(k, "")
			}
			b.Close()
		}
		b.Close()
		return
	}

	b.Bool("mention_must_reply", p.MentionMustReply).Int("followup_window_sec", p.FollowupWindowSec)
	b.Open("attention").
		Bool("enabled", p.Attention.Enabled).
		Int("window_ms", p.Attention.WindowMs).
		Int("max_senders", p.Attention.MaxSenders).
		Close()
	writeFatigue(b, "user_fatigue", p.UserFatigue)
	writeFatigue(b, "group_fatigue", p.GroupFatigue)
	b.Close()
}

func writeFatigue(b *envelope.Builder, name string, f config.FatigueConfig) {
	b.Open(name).
		Bool("enabled", f.Enabled).
		Int("window_ms", f.WindowMs).
		Int("base_limit", f.BaseLimit).
		Int("min_interval_ms", f.MinIntervalMs).
		Float("backoff_factor", &f.BackoffFactor).
		Float("max_backoff_multiplier", &f.MaxBackoffMultiplier).
		Close()
}

func writeRecent(b *envelope.Builder, name string, msgs []message.RecentMessage) {
	b.Open(name)
	for _, m := range msgs {
		b.Open("message").
			Text("sender_id", m.SenderID).
			Text("sender_name", m.SenderName).
			Text("text", m.Text).
			Text("time", m.Time).
			Close()
	}
	b.Close()
}

// MessageFeatures are the cheap surface facts forwarded to the model.
type MessageFeatures struct {
	TextLength      int  `json:"text_length"`
	SummaryLength   int  `json:"summary_length"`
	HasQuestionMark bool `json:"has_question_mark"`
	HasURL          bool `json:"has_url"`
	HasAtSymbol     bool `json:"has_at_symbol"`
}

func messageFeaturesOf(m message.Message) MessageFeatures {
	lower := strings.ToLower(m.Text)
	return MessageFeatures{
		TextLength:      utf8.RuneCountInString(m.Text),
		SummaryLength:   utf8.RuneCountInString(m.Summary),
		HasQuestionMark: strings.ContainsAny(m.Text, "?？"),
		HasURL:          strings.Contains(lower, "http://") || strings.Contains(lower, "https://") || strings.Contains(lower, "www."),
		HasAtSymbol:     strings.Contains(m.Text, "@"),
	}
}

type decisionPayload struct {
	Scene           message.Scene        `json:"scene"`
	SenderID        string               `json:"sender_id"`
	SenderName      string               `json:"sender_name"`
	GroupID         *string              `json:"group_id"`
	Text            string               `json:"text"`
	Summary         string               `json:"summary"`
	Signals         payloadSignals       `json:"signals"`
	Context         *message.History     `json:"context,omitempty"`
	MessageFeatures MessageFeatures      `json:"message_features"`
	PolicyConfig    *config.PolicyConfig `json:"policy_config,omitempty"`
}

type payloadSignals struct {
	IsGroup  bool `json:"is_group"`
	IsPriv   bool `json:"is_private"`
	message.Signals
}

func payloadJSON(in ReplyInput, mf MessageFeatures) string {
	m := in.Message
	p := decisionPayload{
		Scene:           m.SceneOrUnknown(),
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		Text:            m.Text,
		Summary:         m.Summary,
		Signals:         payloadSignals{IsGroup: m.IsGroup(), IsPriv: m.Scene == message.ScenePrivate, Signals: in.Signals},
		MessageFeatures: mf,
		PolicyConfig:    in.Policy,
	}
	if m.GroupID != "" {
		p.GroupID = &m.GroupID
	}
	if len(in.History.GroupRecent) > 0 || len(in.History.SenderRecent) > 0 {
		p.Context = &in.History
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func userMessage(content string) providers.Message {
	return providers.Message{Role: "user", Content: content}
}
