package gate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/replyengine/internal/features"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/scoring"
)

// Action is the local gate verdict.
type Action string

const (
	// ActionIgnore drops the message without any model call.
	ActionIgnore Action = "ignore"
	// ActionReply is reserved for a local must-reply verdict; Evaluate never returns it.
	ActionReply Action = "reply"
	// ActionEscalate defers the decision to the reply adjudicator.
	ActionEscalate Action = "escalate"
)

// Reasons attached to decisions.
const (
	ReasonDisabled  = "reply_gate_disabled"
	ReasonNonGroup  = "non_group_message"
	ReasonEmptyText = "empty_text"
	ReasonLow       = "low_interest_probability"
	ReasonAmbiguous = "ambiguous_probability_range"
	ReasonHigh      = "high_interest_probability"
)

// Decision is the gate output.
type Decision struct {
	Action          Action  `json:"action"`
	Score           float64 `json:"score"`            // content logit
	NormalizedScore float64 `json:"normalized_score"` // interest probability
	Reason          string  `json:"reason"`
	Debug           *Debug  `json:"debug,omitempty"`
}

// Debug explains a scored decision.
type Debug struct {
	Scene         message.Scene          `json:"scene"`
	TextLength    int                    `json:"text_length"`
	TokenCount    int                    `json:"token_count,omitempty"`
	ModelVersion  int                    `json:"model_version,omitempty"`
	Thresholds    scoring.Thresholds     `json:"thresholds"`
	Breakdown     *scoring.Breakdown     `json:"breakdown,omitempty"`
	Content       features.Vector        `json:"content_features,omitempty"`
	Budget        features.Vector        `json:"budget_features,omitempty"`
	FeatureDetail map[string]interface{} `json:"details,omitempty"`
}

// Options are per-call threshold overrides. Values are clamped into [0,1].
type Options struct {
	LowThreshold  *float64
	HighThreshold *float64
}

// Gate is the local, model-free first stage of the reply decision.
type Gate struct {
	enabled   func() bool
	extractor *features.Extractor
	models    *scoring.Snapshotter
}

// New creates a gate. enabled is consulted on every call so hot-reloaded
// config takes effect immediately; nil means always enabled.
func New(enabled func() bool, ex *features.Extractor, models *scoring.Snapshotter) *Gate {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	if ex == nil {
		ex = features.NewExtractor(nil)
	}
	if models == nil {
		models = scoring.NewSnapshotter(nil, nil)
	}
	return &Gate{enabled: enabled, extractor: ex, models: models}
}

// Models exposes the model snapshot service.
func (g *Gate) Models() *scoring.Snapshotter { return g.models }

// Evaluate decides whether msg is worth escalating. It never fails.
func (g *Gate) Evaluate(ctx context.Context, msg message.Message, sig message.Signals, hist message.History, opts Options) Decision {
	start := time.Now()
	_, span := tracer.Start(ctx, "gate.Evaluate")
	defer span.End()

	d := g.evaluate(msg, sig, hist, opts)

	decisionsTotal.WithLabelValues(string(d.Action), d.Reason).Inc()
	latencyHist.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("scene", string(msg.SceneOrUnknown())),
		attribute.String("action", string(d.Action)),
		attribute.String("reason", d.Reason),
		attribute.Float64("probability", d.NormalizedScore),
	)
	return d
}

func (g *Gate) evaluate(msg message.Message, sig message.Signals, hist message.History, opts Options) Decision {
	text := msg.GateText()
	scene := msg.SceneOrUnknown()
	debug := &Debug{Scene: scene, TextLength: len([]rune(text))}

	if !g.enabled() {
		return Decision{Action: ActionEscalate, NormalizedScore: 1, Reason: ReasonDisabled, Debug: debug}
	}
	if !msg.IsGroup() {
		return Decision{Action: ActionEscalate, Reason: ReasonNonGroup, Debug: debug}
	}
	if text == "" {
		return Decision{Action: ActionIgnore, Reason: ReasonEmptyText, Debug: debug}
	}

	model := g.models.Current()
	res := g.extractor.Extract(features.Input{Text: text, Signals: sig, History: hist})
	b := scoring.Score(res.Content, res.Budget, model)
	th := resolveThresholds(model.Thresholds, opts)
	probabilityHist.Observe(b.Probability)

	debug.TokenCount = res.TokenCount
	debug.ModelVersion = model.Version
	debug.Thresholds = th
	debug.Breakdown = &b
	debug.Content = res.Content
	debug.Budget = res.Budget
	debug.FeatureDetail = res.Details

	d := Decision{Score: b.ContentZ, NormalizedScore: b.Probability, Debug: debug}
	d.Action, d.Reason = Classify(b.Probability, th)
	return d
}

func resolveThresholds(base scoring.Thresholds, opts Options) scoring.Thresholds {
	th := base
	if opts.LowThreshold != nil {
		th.Low = *opts.LowThreshold
	}
	if opts.HighThreshold != nil {
		th.High = *opts.HighThreshold
	}
	return th.Normalize()
}

// Classify applies the threshold law to a probability. Exposed for callers
// that score messages themselves.
func Classify(p float64, th scoring.Thresholds) (Action, string) {
	th = th.Normalize()
	p = features.Clamp01(p)
	switch {
	case p <= th.Low:
		return ActionIgnore, ReasonLow
	case p >= th.High:
		return ActionEscalate, ReasonHigh
	}
	return ActionEscalate, ReasonAmbiguous
}
