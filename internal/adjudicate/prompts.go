package adjudicate

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nextlevelbuilder/replyengine/internal/envelope"
)

// Prompt names. Each resolves to <name>.json holding {"system": "..."}.
const (
	PromptReplyDecision = "reply_decision"
	PromptReplyDedup    = "reply_dedup"
	PromptReplyOverride = "reply_override"
)

//go:embed prompts/*.json
var embeddedPrompts embed.FS

// Role-only prompts used when neither the override directory nor the
// embedded set yields a system text.
var fallbackPrompts = map[string]string{
	PromptReplyDecision: "<role>reply_decision_classifier</role>",
	PromptReplyDedup:    "<role>send_dedup_judge</role>",
	PromptReplyOverride: "<role>override_intent_classifier</role>",
}

type promptFile struct {
	System string `json:"system"`
}

// Prompts resolves system prompts, preferring files in dir over the embedded
// defaults. Successful loads are cached; failures are retried on the next call.
type Prompts struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string
}

// NewPrompts creates a prompt set. dir may be empty.
func NewPrompts(dir string) *Prompts {
	return &Prompts{dir: dir, cache: make(map[string]string)}
}

// System returns the system prompt for name. It never fails.
func (p *Prompts) System(name string) string {
	p.mu.RLock()
	s, ok := p.cache[name]
	p.mu.RUnlock()
	if ok {
		return s
	}

	s, err := p.load(name)
	if err != nil || s == "" {
		slog.Warn("adjudicate: prompt load failed, using fallback", "prompt", name, "error", err)
		if fb, ok := fallbackPrompts[name]; ok {
			return fb
		}
		return "<role>" + name + "</role>"
	}

	p.mu.Lock()
	p.cache[name] = s
	p.mu.Unlock()
	return s
}

// Reset drops cached prompts so edited files are picked up.
func (p *Prompts) Reset() {
	p.mu.Lock()
	p.cache = make(map[string]string)
	p.mu.Unlock()
}

func (p *Prompts) load(name string) (string, error) {
	if p.dir != "" {
		data, err := os.ReadFile(filepath.Join(p.dir, name+".json"))
		switch {
		case err == nil:
			return decodePrompt(name, data)
		case !os.IsNotExist(err):
			return "", fmt.Errorf("read prompt %s: %w", name, err)
		}
	}
	data, err := embeddedPrompts.ReadFile("prompts/" + name + ".json")
	if err != nil {
		return "", fmt.Errorf("embedded prompt %s: %w", name, err)
	}
	return decodePrompt(name, data)
}

func decodePrompt(name string, data []byte) (string, error) {
	var f promptFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return strings.TrimSpace(f.System), nil
}

// PersonaRunes bounds plain persona text injected into the reply prompt.
const PersonaRunes = 4000

// PersonaContext turns persona text into a system message body. Text that
// already is a tagged block is used as-is; plain text is truncated, escaped
// and wrapped.
func PersonaContext(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "<") && strings.HasSuffix(text, ">") {
		return text
	}
	if utf8.RuneCountInString(text) > PersonaRunes {
		text = envelope.Snippet(text, PersonaRunes)
	}
	return strings.Join([]string{
		"<sentra-agent-preset-text>",
		envelope.Escape(text),
		"</sentra-agent-preset-text>",
	}, "\n")
}

// LoadPersona reads a persona file. A missing or unreadable file yields "".
func LoadPersona(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("adjudicate: persona load failed, continuing without persona", "path", path, "error", err)
		return ""
	}
	ctx := PersonaContext(string(data))
	if ctx != "" {
		slog.Info("adjudicate: persona context loaded", "path", path, "runes", utf8.RuneCountInString(ctx))
	}
	return ctx
}
