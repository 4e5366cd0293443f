package adjudicate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/envelope"
	"github.com/nextlevelbuilder/replyengine/internal/message"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProvider returns a fixed reply or error, or blocks until ctx ends.
type fakeProvider struct {
	content string
	err     error
	block   bool

	mu   sync.Mutex
	reqs []providers.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{Content: f.content, FinishReason: "stop"}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake" }
func (f *fakeProvider) Name() string         { return "fake" }

func (f *fakeProvider) last() providers.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func deps(p providers.Provider) Deps {
	cfg := config.Default().Decision
	cfg.Enabled = true
	cfg.Model = "decider"
	return Deps{Provider: p, Prompts: NewPrompts(""), Settings: StaticSettings(cfg)}
}

func TestReplyAdjudicator_FallbackLaw(t *testing.T) {
	tests := []struct {
		name       string
		p          *fakeProvider
		wantReason string
	}{
		{"no outer tag", &fakeProvider{content: "I think you should reply."}, reasonParsePrefix},
		{"bad required field", &fakeProvider{content: "<sentra-reply-decision><should_reply>maybe</should_reply></sentra-reply-decision>"}, reasonParsePrefix},
		{"transport error", &fakeProvider{err: errors.New("connection reset")}, ReasonTransportFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewReplyAdjudicator(deps(tt.p)).Decide(context.Background(), ReplyInput{Message: message.Message{Scene: message.SceneGroup, Text: "hi"}})
			if d.ShouldReply || d.Confidence != 0 || d.Priority != envelope.PriorityNormal || d.ShouldQuote {
				t.Errorf("not the fallback: %+v", d)
			}
			if !strings.HasPrefix(d.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want prefix %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestReplyAdjudicator_TimeoutFallsBack(t *testing.T) {
	cfg := config.Default().Decision
	cfg.Enabled = true
	cfg.TimeoutMs = 20
	p := &fakeProvider{block: true}
	a := NewReplyAdjudicator(Deps{Provider: p, Settings: StaticSettings(cfg)})

	start := time.Now()
	d := a.Decide(context.Background(), ReplyInput{Message: message.Message{Scene: message.SceneGroup, Text: "hi"}})
	if d.Reason != ReasonTransportFailed {
		t.Errorf("reason = %q", d.Reason)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("decision did not respect the timeout")
	}
}

func TestReplyAdjudicator_RequestShape(t *testing.T) {
	p := &fakeProvider{content: "```xml\n<sentra-reply-decision><should_reply>yes</should_reply><priority>high</priority></sentra-reply-decision>\n```"}
	d := deps(p)
	d.Persona = PersonaContext("A cheerful assistant <bot>")
	policy := config.Default().Policy

	got := NewReplyAdjudicator(d).Decide(context.Background(), ReplyInput{
		Message: message.Message{Scene: message.SceneGroup, SenderID: "42", SenderName: "Ann", GroupID: "g1", Text: "@bot is https://x.io down?"},
		Signals: message.Signals{MentionedByAt: true, MentionedNames: []string{"bot", "helper"}},
		History: message.History{GroupRecent: []message.RecentMessage{{SenderID: "7", Text: "a<b", Time: "10:00"}}},
		Policy:  &policy,
	})
	want := envelope.ReplyDecision{ShouldReply: true, Confidence: 1, Priority: envelope.PriorityHigh, Reason: "model decided to reply"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	req := p.last()
	if req.Model != "decider" || req.Options[providers.OptTemperature] != 0.1 || req.Options[providers.OptMaxTokens] != 128 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 3 || req.Messages[1].Role != "system" || !strings.Contains(req.Messages[1].Content, "&lt;bot&gt;") {
		t.Fatalf("messages = %+v", req.Messages)
	}
	input := req.Messages[2].Content
	for _, frag := range []string{
		"<decision_input>",
		"<has_question_mark>true</has_question_mark>",
		"<has_url>true</has_url>",
		"<has_at_symbol>true</has_at_symbol>",
		"<mentioned_names>bot,helper</mentioned_names>",
		"<senderLastReplyAgeSec></senderLastReplyAgeSec>",
		"<text>a&lt;b</text>",
		"<payload_json>",
	} {
		if !strings.Contains(input, frag) {
			t.Errorf("decision input lacks %q", frag)
		}
	}
}

func TestReplyAdjudicator_DisabledSkipsModel(t *testing.T) {
	p := &fakeProvider{content: "<sentra-reply-decision><should_reply>true</should_reply></sentra-reply-decision>"}
	cfg := config.Default().Decision
	cfg.Enabled = false
	d := NewReplyAdjudicator(Deps{Provider: p, Settings: StaticSettings(cfg)}).Decide(context.Background(), ReplyInput{})
	if d.ShouldReply || d.Reason != ReasonDisabled || p.calls() != 0 {
		t.Errorf("got %+v after %d calls", d, p.calls())
	}
}

func TestDedupAdjudicator(t *testing.T) {
	// Without the outer tag there is no opinion.
	p := &fakeProvider{content: "They look the same to me."}
	if d := NewDedupAdjudicator(deps(p)).Decide(context.Background(), "今天天气不错", "今天天气不错！"); d != nil {
		t.Errorf("expected nil, got %+v", d)
	}
	req := p.last()
	if req.Options[providers.OptMaxTokens] != 96 || req.Options[providers.OptTemperature] != 0.0 {
		t.Errorf("options = %v", req.Options)
	}
	if !strings.Contains(req.Messages[1].Content, "<candidate_text>今天天气不错！</candidate_text>") {
		t.Errorf("input = %s", req.Messages[1].Content)
	}

	p = &fakeProvider{content: "<sentra-dedup-decision><are_similar>true</are_similar><similarity>0.97</similarity></sentra-dedup-decision>"}
	d := NewDedupAdjudicator(deps(p)).Decide(context.Background(), "a", "b")
	if d == nil || !d.AreSimilar || *d.Similarity != 0.97 {
		t.Errorf("got %+v", d)
	}

	p = &fakeProvider{}
	if d := NewDedupAdjudicator(deps(p)).Decide(context.Background(), "  ", "x"); d != nil || p.calls() != 0 {
		t.Error("blank text must short-circuit to nil")
	}
	p = &fakeProvider{err: errors.New("boom")}
	if d := NewDedupAdjudicator(deps(p)).Decide(context.Background(), "a", "b"); d != nil {
		t.Error("transport failure must give nil")
	}
}

func TestOverrideAdjudicator(t *testing.T) {
	p := &fakeProvider{content: "<sentra-override-decision><should_cancel>true</should_cancel><relation>override</relation><reason>the user changed the request</reason><confidence>0.9</confidence></sentra-override-decision>"}
	prev := []TaskMessage{{Text: "m1"}, {Text: "m2"}, {Text: "m3"}, {Text: "m4"}, {Summary: "[image]"}, {Text: "写一篇关于猫的文章", Time: "t6"}}
	got := NewOverrideAdjudicator(deps(p)).Decide(context.Background(), OverrideInput{
		SenderID:     "u1",
		PrevMessages: prev,
		NewMessage:   TaskMessage{Text: "算了，帮我查下明天天气"},
	})
	want := &envelope.OverrideDecision{Relation: envelope.RelationOverride, ShouldCancel: true, Confidence: 0.9, Reason: "the user changed the request"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	input := p.last().Messages[1].Content
	if strings.Contains(input, "<text>m1</text>") || !strings.Contains(input, "<text>m2</text>") {
		t.Error("only the last five previous messages should be sent")
	}
	if !strings.Contains(input, "<scene>unknown</scene>") || !strings.Contains(input, "<text>[image]</text>") {
		t.Errorf("input = %s", input)
	}

	for name, fp := range map[string]*fakeProvider{
		"no tag":    {content: "cancel it"},
		"transport": {err: errors.New("503")},
	} {
		if d := NewOverrideAdjudicator(deps(fp)).Decide(context.Background(), OverrideInput{NewMessage: TaskMessage{Text: "x"}}); d != nil {
			t.Errorf("%s: expected nil, got %+v", name, d)
		}
	}
}

func TestToolRouter(t *testing.T) {
	p := &fakeProvider{content: `<sentra-tools><invoke name="local__weather"><parameter name="city">Shanghai</parameter></invoke></sentra-tools>`}
	r := NewToolRouter(deps(p))
	r.newID = func() string { return "fixed" }

	out := r.Route(context.Background(), RouteInput{
		Conversation:          []providers.Message{{Role: "system", Content: "sys"}},
		UserContent:           "weather tomorrow?",
		OriginalRootDirective: "<root>x</root>",
	})
	if out == nil || out.Kind != envelope.RouteTools || out.Invocations[0].Name != "local__weather" {
		t.Fatalf("got %+v", out)
	}
	msgs := p.last().Messages
	user := msgs[len(msgs)-1].Content
	if len(msgs) != 2 || !strings.HasPrefix(user, "<sentra-root-directive>\n<id>tool_router_fixed</id>") || !strings.HasSuffix(user, "</sentra-root-directive>\n\nweather tomorrow?") {
		t.Errorf("user content = %s", user)
	}
	if !strings.Contains(user, "<original_root_directive>&lt;root&gt;x&lt;/root&gt;</original_root_directive>") {
		t.Error("original directive should be embedded escaped")
	}

	p.content = "<sentra-response></sentra-response>"
	if out := r.Route(context.Background(), RouteInput{}); out == nil || out.Kind != envelope.RouteReply || !out.Silent {
		t.Errorf("silent: got %+v", out)
	}
	p.content = "<sentra-tools><invoke name=\"a\"></invoke></sentra-tools><sentra-response>hi</sentra-response>"
	if out := r.Route(context.Background(), RouteInput{}); out != nil {
		t.Errorf("both blocks: got %+v", out)
	}
}

func TestToolRouter_TimeoutReturnsNil(t *testing.T) {
	p := &fakeProvider{block: true}
	r := NewToolRouter(deps(p))

	start := time.Now()
	if out := r.Route(context.Background(), RouteInput{UserContent: "x", Timeout: 20 * time.Millisecond}); out != nil {
		t.Errorf("got %+v", out)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not applied")
	}
}

func TestToolRouter_IgnoresInterventionSwitch(t *testing.T) {
	p := &fakeProvider{content: "<sentra-response>ok</sentra-response>"}
	cfg := config.Default().Decision
	cfg.Enabled = false
	out := NewToolRouter(Deps{Provider: p, Settings: StaticSettings(cfg)}).Route(context.Background(), RouteInput{})
	if out == nil || out.Text != "ok" {
		t.Errorf("got %+v", out)
	}
}

type panickingProvider struct{ fakeProvider }

func (*panickingProvider) Chat(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	panic("provider exploded")
}

func TestAdjudicators_ProviderPanicFallsBack(t *testing.T) {
	ctx := context.Background()
	p := &panickingProvider{}

	d := NewReplyAdjudicator(deps(p)).Decide(ctx, ReplyInput{Message: message.Message{Scene: message.SceneGroup, Text: "hi"}})
	if d.ShouldReply || d.Reason != ReasonTransportFailed {
		t.Errorf("reply: got %+v, want transport fallback", d)
	}
	if got := NewDedupAdjudicator(deps(p)).Decide(ctx, "a", "b"); got != nil {
		t.Errorf("dedup: got %+v", got)
	}
	if got := NewOverrideAdjudicator(deps(p)).Decide(ctx, OverrideInput{NewMessage: TaskMessage{Text: "x"}}); got != nil {
		t.Errorf("override: got %+v", got)
	}
	// The timed router calls the provider from its own goroutine.
	if got := NewToolRouter(deps(p)).Route(ctx, RouteInput{UserContent: "x", Timeout: time.Second}); got != nil {
		t.Errorf("router: got %+v", got)
	}

	_, err := newCaller("reply", deps(p)).chat(ctx, nil, callOpts{})
	if !errors.Is(err, ErrProviderPanic) {
		t.Errorf("err = %v, want ErrProviderPanic", err)
	}
}

func TestPrompts(t *testing.T) {
	p := NewPrompts("")
	if s := p.System(PromptReplyOverride); !strings.Contains(s, "<sentra-override-decision>") {
		t.Errorf("embedded override prompt missing output block: %q", s)
	}
	if s := p.System("nope"); s != "<role>nope</role>" {
		t.Errorf("unknown prompt = %q", s)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "reply_dedup.json"), []byte(`{"system":"custom dedup"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "reply_decision.json"), []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	p = NewPrompts(dir)
	if s := p.System(PromptReplyDedup); s != "custom dedup" {
		t.Errorf("override dir ignored: %q", s)
	}
	if s := p.System(PromptReplyDecision); s != "<role>reply_decision_classifier</role>" {
		t.Errorf("broken file should give the role fallback, got %q", s)
	}
}

func TestPersonaContext(t *testing.T) {
	long := strings.Repeat("a", PersonaRunes+10)
	got := PersonaContext(long)
	if !strings.HasPrefix(got, "<sentra-agent-preset-text>\n") || strings.Count(got, "a") != PersonaRunes+strings.Count("<sentra-agent-preset-text></sentra-agent-preset-text>", "a") {
		t.Errorf("persona not truncated to %d runes", PersonaRunes)
	}
	if PersonaContext("  ") != "" {
		t.Error("blank persona must be empty")
	}
	if x := "<persona>x</persona>"; PersonaContext(x) != x {
		t.Error("tagged persona is used as-is")
	}
}
