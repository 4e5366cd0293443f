// Package envelope reads and writes the tagged-text envelopes exchanged with
// decision models. Model output is treated as untrusted prose: blocks are
// located by tag anywhere in the text and missing optional fields fall back
// to defaults.
package envelope

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrProtocol is wrapped by every ParseError.
var ErrProtocol = errors.New("decision protocol parse error")

// SnippetRunes bounds the raw-text excerpt kept on parse errors.
const SnippetRunes = 500

// ParseError describes why a model response could not be decoded.
type ParseError struct {
	Tag     string
	Reason  string
	Snippet string // first SnippetRunes runes of the raw response
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse <%s>: %s", e.Tag, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrProtocol }

func newParseError(tag, reason, raw string) *ParseError {
	return &ParseError{Tag: tag, Reason: reason, Snippet: Snippet(raw, SnippetRunes)}
}

// Snippet returns at most n runes of s.
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var (
	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&#39;", "'", "&amp;", "&")
)

// Escape replaces the five XML-reserved characters.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape reverses Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// Block is one located <tag>...</tag> element.
type Block struct {
	Tag   string
	Raw   string // the whole element including its tags
	Inner string // content between the tags, untrimmed
}

type tagPatterns struct {
	block *regexp.Regexp
}

var patternCache sync.Map // tag -> *tagPatterns

func patterns(tag string) *tagPatterns {
	if p, ok := patternCache.Load(tag); ok {
		return p.(*tagPatterns)
	}
	q := regexp.QuoteMeta(tag)
	p := &tagPatterns{
		block: regexp.MustCompile(`(?is)<` + q + `\b[^>]*>(.*?)</` + q + `\s*>`),
	}
	actual, _ := patternCache.LoadOrStore(tag, p)
	return actual.(*tagPatterns)
}

// Find returns the first <tag> element in raw, case-insensitively.
func Find(raw, tag string) (Block, bool) {
	m := patterns(tag).block.FindStringSubmatchIndex(raw)
	if m == nil {
		return Block{}, false
	}
	return Block{Tag: tag, Raw: raw[m[0]:m[1]], Inner: raw[m[2]:m[3]]}, true
}

// FindAll returns every non-overlapping <tag> element in s.
func FindAll(s, tag string) []Block {
	var out []Block
	for _, m := range patterns(tag).block.FindAllStringSubmatchIndex(s, -1) {
		out = append(out, Block{Tag: tag, Raw: s[m[0]:m[1]], Inner: s[m[2]:m[3]]})
	}
	return out
}

// Extract is Find returning a ParseError when the block is missing.
func Extract(raw, tag string) (Block, error) {
	b, ok := Find(raw, tag)
	if !ok {
		return Block{}, newParseError(tag, fmt.Sprintf("missing <%s> block", tag), raw)
	}
	return b, nil
}

// Child returns the trimmed text of the first <name> child and whether it exists.
func (b Block) Child(name string) (string, bool) {
	c, ok := Find(b.Inner, name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(c.Inner), true
}

// Text returns the trimmed, unescaped text of <name>, or "".
func (b Block) Text(name string) string {
	s, _ := b.Child(name)
	return Unescape(s)
}

// BoolWords selects the vocabulary accepted by Bool.
type BoolWords int

const (
	// StrictBools accepts true/1/yes/y and false/0/no/n.
	StrictBools BoolWords = iota
	// ReplyBools additionally accepts reply and skip.
	ReplyBools
)

// ParseBool decodes a boolean word case-insensitively.
func ParseBool(s string, words BoolWords) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	case "reply":
		return true, words == ReplyBools
	case "skip":
		return false, words == ReplyBools
	}
	return false, false
}

// Bool decodes child <name> as a boolean. ok is false when absent or unrecognised.
func (b Block) Bool(name string, words BoolWords) (value, ok bool) {
	s, found := b.Child(name)
	if !found {
		return false, false
	}
	return ParseBool(s, words)
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseUnit reads a leading decimal number and clamps it into [0,1].
// Trailing text such as "0.8 (fairly sure)" is ignored.
func ParseUnit(s string) (float64, bool) {
	num := leadingNumber.FindString(strings.TrimSpace(s))
	if num == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case f < 0:
		return 0, true
	case f > 1:
		return 1, true
	}
	return f, true
}

// Unit decodes child <name> with ParseUnit.
func (b Block) Unit(name string) (float64, bool) {
	s, found := b.Child(name)
	if !found {
		return 0, false
	}
	return ParseUnit(s)
}

// Enum returns child <name> lower-cased when it is one of allowed, else def.
func (b Block) Enum(name string, allowed []string, def string) string {
	s, _ := b.Child(name)
	s = strings.ToLower(s)
	for _, a := range allowed {
		if s == a {
			return a
		}
	}
	return def
}

var attrPattern = regexp.MustCompile(`(?is)^<[^\s>]+([^>]*)>`)

// Attr returns the value of attribute key on the block's opening tag.
func (b Block) Attr(key string) string {
	m := attrPattern.FindStringSubmatch(b.Raw)
	if m == nil {
		return ""
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(key) + `\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	a := re.FindStringSubmatch(m[1])
	if a == nil {
		return ""
	}
	if a[1] != "" {
		return Unescape(a[1])
	}
	return Unescape(a[2])
}
