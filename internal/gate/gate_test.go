package gate

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/replyengine/internal/features"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/scoring"
)

func groupMsg(text string) message.Message {
	return message.Message{Scene: message.SceneGroup, SenderID: "u1", GroupID: "g1", Text: text}
}

func newGate(enabled bool) *Gate {
	return New(func() bool { return enabled }, features.NewExtractor(features.RuneEstimator{}), scoring.NewSnapshotter(nil, nil))
}

func ptr(f float64) *float64 { return &f }

func TestEvaluate_LaughterIsIgnored(t *testing.T) {
	d := newGate(true).Evaluate(context.Background(), groupMsg("233333"), message.Signals{}, message.History{}, Options{})
	if d.Action != ActionIgnore || d.Reason != ReasonLow {
		t.Fatalf("got %s/%s (p=%.4f), want ignore/%s", d.Action, d.Reason, d.NormalizedScore, ReasonLow)
	}
	if d.NormalizedScore > 0.25 {
		t.Errorf("probability %.4f should be below the default low threshold", d.NormalizedScore)
	}
}

func TestEvaluate_MentionWithContentEscalatesHigh(t *testing.T) {
	text := "@bot could you help me understand why the deployment pipeline keeps failing " +
		"after we upgraded the database driver yesterday, the logs mention a timeout " +
		"while running migrations and nobody on the team knows what changed"
	sig := message.Signals{MentionedByAt: true}

	d := newGate(true).Evaluate(context.Background(), groupMsg(text), sig, message.History{}, Options{})
	if d.Action != ActionEscalate || d.Reason != ReasonHigh {
		t.Fatalf("got %s/%s (p=%.4f, content=%v), want escalate/%s", d.Action, d.Reason, d.NormalizedScore, d.Debug.Content, ReasonHigh)
	}
	if !d.Debug.Content.Has(features.MentionByAt) || !d.Debug.Content.Has(features.TokenInIdealRange) {
		t.Errorf("expected mention and ideal token range features, got %v", d.Debug.Content)
	}
}

func TestEvaluate_EmptyGroupTextIgnoredWithoutScoring(t *testing.T) {
	d := newGate(true).Evaluate(context.Background(), groupMsg("   "), message.Signals{MentionedByAt: true}, message.History{}, Options{})
	if d.Action != ActionIgnore || d.Reason != ReasonEmptyText {
		t.Fatalf("got %s/%s, want ignore/empty_text", d.Action, d.Reason)
	}
	if d.Debug.Breakdown != nil || d.Score != 0 || d.NormalizedScore != 0 {
		t.Error("empty text must not be scored")
	}
}

func TestEvaluate_SummaryFallback(t *testing.T) {
	msg := groupMsg("")
	msg.Summary = "[image]"
	d := newGate(true).Evaluate(context.Background(), msg, message.Signals{}, message.History{}, Options{})
	if d.Reason == ReasonEmptyText {
		t.Fatal("summary should be used when text is empty")
	}
}

func TestEvaluate_DisabledAndPrivate(t *testing.T) {
	d := newGate(false).Evaluate(context.Background(), groupMsg("hi"), message.Signals{}, message.History{}, Options{})
	if d.Action != ActionEscalate || d.Reason != ReasonDisabled || d.NormalizedScore != 1 {
		t.Errorf("disabled gate: got %+v", d)
	}

	priv := message.Message{Scene: message.ScenePrivate, SenderID: "u1", Text: "233333"}
	d = newGate(true).Evaluate(context.Background(), priv, message.Signals{}, message.History{}, Options{})
	if d.Action != ActionEscalate || d.Reason != ReasonNonGroup {
		t.Errorf("private message: got %s/%s", d.Action, d.Reason)
	}
}

func TestEvaluate_ThresholdOverridesAreSwapped(t *testing.T) {
	g := newGate(true)
	msg := groupMsg("what time is the meeting tomorrow")

	// low=0.9/high=0.1 normalizes to 0.1/0.9.
	d := g.Evaluate(context.Background(), msg, message.Signals{}, message.History{}, Options{LowThreshold: ptr(0.9), HighThreshold: ptr(0.1)})
	if d.Debug.Thresholds != (scoring.Thresholds{Low: 0.1, High: 0.9}) {
		t.Errorf("thresholds = %+v, want 0.1/0.9", d.Debug.Thresholds)
	}

	// Out-of-range overrides are clamped.
	d = g.Evaluate(context.Background(), msg, message.Signals{}, message.History{}, Options{LowThreshold: ptr(-3), HighThreshold: ptr(7)})
	if d.Debug.Thresholds != (scoring.Thresholds{Low: 0, High: 1}) {
		t.Errorf("thresholds = %+v, want 0/1", d.Debug.Thresholds)
	}
	if d.Action != ActionEscalate {
		t.Errorf("with low=0 any positive probability escalates, got %s", d.Action)
	}
}

func TestEvaluate_UsesReloadedModel(t *testing.T) {
	src := ""
	g := New(nil, features.NewExtractor(features.RuneEstimator{}), scoring.NewSnapshotter(nil, func() string { return src }))
	msg := groupMsg("233333")

	if d := g.Evaluate(context.Background(), msg, message.Signals{}, message.History{}, Options{}); d.Action != ActionIgnore {
		t.Fatalf("baseline: got %s", d.Action)
	}
	src = `{thresholds: {low: 0.05}}`
	if d := g.Evaluate(context.Background(), msg, message.Signals{}, message.History{}, Options{}); d.Action != ActionEscalate {
		t.Fatalf("after reload: got %s (p=%.3f)", d.Action, d.NormalizedScore)
	}
}

func TestClassify_ThresholdLaw(t *testing.T) {
	th := scoring.Thresholds{Low: 0.25, High: 0.6}
	for i := 0; i <= 100; i++ {
		p := float64(i) / 100
		a, reason := Classify(p, th)
		if p <= th.Low {
			if a != ActionIgnore {
				t.Fatalf("p=%.2f: got %s, want ignore", p, a)
			}
			continue
		}
		if a != ActionEscalate {
			t.Fatalf("p=%.2f: got %s, want escalate", p, a)
		}
		wantHigh := p >= th.High
		if (reason == ReasonHigh) != wantHigh {
			t.Fatalf("p=%.2f: reason %s", p, reason)
		}
	}

	// A misordered pair behaves like the sorted pair.
	for i := 0; i <= 100; i++ {
		p := float64(i) / 100
		a1, r1 := Classify(p, scoring.Thresholds{Low: 0.6, High: 0.25})
		a2, r2 := Classify(p, th)
		if a1 != a2 || r1 != r2 {
			t.Fatalf("p=%.2f: swapped thresholds differ: %s/%s vs %s/%s", p, a1, r1, a2, r2)
		}
	}
}

func TestEvaluate_NeverReturnsReply(t *testing.T) {
	g := newGate(true)
	texts := []string{"", "ok", "233333", "😂", strings.Repeat("long message ", 40)}
	for _, txt := range texts {
		d := g.Evaluate(context.Background(), groupMsg(txt), message.Signals{MentionedByAt: true}, message.History{}, Options{})
		if d.Action == ActionReply {
			t.Errorf("%q: gate must not return reply", txt)
		}
	}
}
