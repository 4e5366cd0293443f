// Package adjudicate asks a decision model to settle what local scoring cannot:
// whether to reply, whether an outgoing message duplicates a sent one, whether
// a new message overrides a running task, and whether a turn needs tools.
//
// Every entry point recovers internally. Parse errors, transport errors and
// timeouts resolve to a documented fallback: no reply, no opinion, no cancel.
package adjudicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/replyengine/internal/config"
	"github.com/nextlevelbuilder/replyengine/internal/envelope"
	"github.com/nextlevelbuilder/replyengine/internal/providers"
)

// ErrTimeout is reported when a call outlives its deadline.
var ErrTimeout = errors.New("decision model timeout")

// ErrDisabled is reported when intervention is switched off.
var ErrDisabled = errors.New("reply intervention disabled")

// Settings resolves the current decision config on every call, so reloads apply
// without rebuilding adjudicators.
type Settings func() config.DecisionConfig

// StaticSettings returns a Settings that always yields cfg.
func StaticSettings(cfg config.DecisionConfig) Settings {
	return func() config.DecisionConfig { return cfg }
}

// Deps are shared by all adjudicators.
type Deps struct {
	Provider providers.Provider
	Prompts  *Prompts
	Settings Settings
	// Persona is an optional second system message for the reply adjudicator.
	Persona string
}

type caller struct {
	name string
	Deps
}

func newCaller(name string, d Deps) caller {
	if d.Prompts == nil {
		d.Prompts = NewPrompts("")
	}
	if d.Settings == nil {
		d.Settings = StaticSettings(config.Default().Decision)
	}
	return caller{name: name, Deps: d}
}

// callOpts tune one model call.
type callOpts struct {
	maxTokens    int
	temperature  *float64
	timeout      time.Duration // <=0 keeps only the caller's deadline
	ignoreSwitch bool          // run even when intervention is disabled
}

func temp(v float64) *float64 { return &v }

// ErrProviderPanic is reported when a provider panics during a call.
var ErrProviderPanic = errors.New("decision provider panic")

// chat runs one bounded model call and returns the raw text. A provider
// panic is returned as ErrProviderPanic.
func (c caller) chat(ctx context.Context, msgs []providers.Message, o callOpts) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw, err = "", fmt.Errorf("%w: %v", ErrProviderPanic, r)
		}
	}()

	s := c.Settings()
	if !s.Enabled && !o.ignoreSwitch {
		return "", ErrDisabled
	}
	if c.Provider == nil {
		return "", providers.ErrNoProvider
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := providers.ChatRequest{Messages: msgs, Model: s.Model, Options: map[string]interface{}{}}
	if o.maxTokens > 0 {
		req.Options[providers.OptMaxTokens] = o.maxTokens
	}
	if o.temperature != nil {
		req.Options[providers.OptTemperature] = *o.temperature
	}

	start := time.Now()
	resp, err := c.Provider.Chat(ctx, req)
	callLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", err
	}
	return resp.Content, nil
}

// systemMessages returns the prompt plus the optional persona.
func (c caller) systemMessages(prompt string, withPersona bool) []providers.Message {
	msgs := []providers.Message{{Role: "system", Content: c.Prompts.System(prompt)}}
	if withPersona && c.Persona != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: c.Persona})
	}
	return msgs
}

// classify maps an error to an outcome label.
func classify(err error) string {
	var pe *envelope.ParseError
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrDisabled):
		return outcomeDisabled
	case errors.Is(err, ErrTimeout):
		return outcomeTimeout
	case errors.As(err, &pe):
		return outcomeParse
	}
	return outcomeTransport
}

// finish records metrics and span status, and logs failures with a preview.
func (c caller) finish(span trace.Span, err error, raw string) {
	outcome := classify(err)
	outcomesTotal.WithLabelValues(c.name, outcome).Inc()
	span.SetAttributes(attribute.String("outcome", outcome))
	if err == nil || outcome == outcomeDisabled {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)

	attrs := []interface{}{"adjudicator", c.name, "outcome", outcome, "error", err}
	var pe *envelope.ParseError
	if errors.As(err, &pe) {
		attrs = append(attrs, "snippet", preview(pe.Snippet))
	} else if raw != "" {
		attrs = append(attrs, "raw", preview(raw))
	}
	slog.Warn("adjudicate: falling back", attrs...)
}

// preview shortens s for logs by display width.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, 160, "...")
}
