package adjudicate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/replyengine/internal/envelope"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
)

// RouteInput is one routing turn.
type RouteInput struct {
	// Conversation precedes the routed user turn (system prompt, history).
	Conversation []providers.Message
	// UserContent is the user turn without any root directive.
	UserContent string
	// OriginalRootDirective, when set, is embedded escaped in the router directive.
	OriginalRootDirective string
	// Scope of the directive; defaults to "single_turn".
	Scope string
	// Timeout races the model call; <=0 means no extra timer.
	Timeout time.Duration
}

const routerObjective = "Decide from the current context whether this turn needs tools. " +
	"Output exactly one of two results: A) tools needed: one and only one <sentra-tools>...</sentra-tools> " +
	"block holding one or more <invoke name=\"...\"> elements with <parameter name=\"...\">...</parameter> arguments; " +
	"B) no tools needed: one and only one <sentra-response>...</sentra-response> block replying to the user. " +
	"Never output any other text, explanation, markdown code fence or XML tag."

var routerConstraints = []string{
	"Output exactly one top-level block, either <sentra-tools>...</sentra-tools> or <sentra-response>...</sentra-response>, and no other characters.",
	"When unsure whether a tool is needed, choose <sentra-response>; do not use tools just to look more capable.",
	"In <sentra-tools> use native XML only: <sentra-tools>, <invoke> and <parameter>. Never output JSON or pseudo formats such as \"tool: x, args: {...}\".",
	"In <sentra-tools> write only the tool request with no user-visible text, and do not also output <sentra-response>. Keep invokes few, usually one or two.",
	"Every invoke must carry its required parameters. Do not invent file paths, accounts or group ids; if the user must supply details, ask in <sentra-response> instead.",
	"In <sentra-response> follow the sentra-response protocol and reply naturally; never mention tools, MCP, system prompts, protocols or internal flow.",
	"When the input is thin or the task is light, prefer <sentra-response>; to stay silent, output an empty <sentra-response></sentra-response>.",
	"Template, for structure only and never to be echoed: <sentra-tools><invoke name=\"local__weather\"><parameter name=\"city\">Shanghai</parameter><parameter name=\"queryType\">forecast</parameter></invoke></sentra-tools>",
}

// BuildRouterDirective renders the <sentra-root-directive> for one routing turn.
func BuildRouterDirective(id, scope, originalRoot string) string {
	if scope == "" {
		scope = "single_turn"
	}
	b := envelope.NewBuilder("sentra-root-directive").
		Text("id", "tool_router_"+id).
		Text("type", "tool_router").
		Text("scope", scope).
		Text("phase", "ToolRouter").
		Text("objective", routerObjective)
	b.Open("constraints")
	for _, c := range routerConstraints {
		b.Text("item", c)
	}
	b.Close()
	if originalRoot != "" {
		b.Text("original_root_directive", originalRoot)
	}
	return b.String()
}

// ToolRouter asks the model to either call tools or answer directly. It runs
// regardless of the intervention switch, which only governs reply policing.
type ToolRouter struct {
	c     caller
	newID func() string
}

func NewToolRouter(d Deps) *ToolRouter {
	return &ToolRouter{c: newCaller("router", d), newID: uuid.NewString}
}

type routeResult struct {
	raw string
	err error
}

// Route returns nil on timeout, transport error, or a response holding
// neither or both of the two blocks.
func (r *ToolRouter) Route(ctx context.Context, in RouteInput) *envelope.Routing {
	ctx, span := tracer.Start(ctx, "adjudicate.Route")
	defer span.End()

	directive := BuildRouterDirective(r.newID(), in.Scope, in.OriginalRootDirective)
	content := directive
	if in.UserContent != "" {
		content = directive + "\n\n" + in.UserContent
	}
	msgs := make([]providers.Message, 0, len(in.Conversation)+1)
	msgs = append(msgs, in.Conversation...)
	msgs = append(msgs, userMessage(content))

	raw, err := r.race(ctx, msgs, in.Timeout)
	if err != nil {
		r.c.finish(span, err, "")
		return nil
	}

	out, err := envelope.ParseRouting(raw)
	r.c.finish(span, err, raw)
	if err != nil {
		return nil
	}
	span.SetAttributes(attribute.String("kind", string(out.Kind)), attribute.Bool("silent", out.Silent))
	return &out
}

// race runs the call in its own goroutine and abandons it when the timer
// fires first. The call context is cancelled on return so the goroutine ends.
func (r *ToolRouter) race(ctx context.Context, msgs []providers.Message, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return r.c.chat(ctx, msgs, callOpts{ignoreSwitch: true})
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan routeResult, 1)
	go func() {
		raw, err := r.c.chat(callCtx, msgs, callOpts{ignoreSwitch: true})
		done <- routeResult{raw: raw, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.raw, res.err
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", ctx.Err()
	}
}
