package features

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
	"github.com/xrash/smetrics"
	"golang.org/x/text/cases"
	"mvdan.cc/xurls/v2"
)

// SegmentStats summarizes the UAX #29 word segmentation of a text.
type SegmentStats struct {
	Segments             []string // whitespace-only segments dropped
	SegmentCount         int
	AverageSegmentLength float64 // in runes
	PunctuationRunes     int     // runes inside punctuation/symbol-only segments
}

// Segment splits text at word boundaries. Punctuation segments are kept so
// punctuation-heavy texts can be recognised.
func Segment(text string) SegmentStats {
	var st SegmentStats
	var totalRunes int
	state := -1
	rest := text
	for len(rest) > 0 {
		var word string
		word, rest, state = uniseg.FirstWordInString(rest, state)
		w := strings.TrimSpace(word)
		if w == "" {
			continue
		}
		n := utf8.RuneCountInString(w)
		st.Segments = append(st.Segments, w)
		totalRunes += n
		if isPunctuationRun(w) {
			st.PunctuationRunes += n
		}
	}
	st.SegmentCount = len(st.Segments)
	if st.SegmentCount > 0 {
		st.AverageSegmentLength = float64(totalRunes) / float64(st.SegmentCount)
	}
	return st
}

// LexicalDiversity is unique segments over total segments.
func (s SegmentStats) LexicalDiversity() float64 {
	if s.SegmentCount == 0 {
		return 0
	}
	uniq := make(map[string]struct{}, s.SegmentCount)
	for _, seg := range s.Segments {
		uniq[seg] = struct{}{}
	}
	return float64(len(uniq)) / float64(s.SegmentCount)
}

func isPunctuationRun(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// isWordRune matches letters and numbers in any script.
func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }

func hasWordRunes(s string) bool {
	return strings.IndexFunc(s, isWordRune) >= 0
}

// uniqueRuneCount counts distinct runes, whitespace included.
func uniqueRuneCount(s string) int {
	seen := make(map[rune]struct{})
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

// emojiScan counts emoji grapheme clusters and returns the text with them removed.
// A plain ASCII cluster never counts, so digits and '#' stay text even though
// they can start a keycap sequence.
func emojiScan(text string) (count int, without string) {
	var b strings.Builder
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		cluster := g.Str()
		if !isASCII(cluster) && gomoji.ContainsEmoji(cluster) {
			count++
			continue
		}
		b.WriteString(cluster)
	}
	return count, strings.TrimSpace(b.String())
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// punctuationOrSymbolOnly reports whether every non-space rune is punctuation or a symbol.
func punctuationOrSymbolOnly(compact string) bool {
	if compact == "" {
		return false
	}
	for _, r := range compact {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

var urlPattern = xurls.Relaxed()

// urlStats returns the number of URLs and their total rune length.
func urlStats(text string) (count, runes int) {
	for _, m := range urlPattern.FindAllString(text, -1) {
		count++
		runes += utf8.RuneCountInString(m)
	}
	return count, runes
}

// Similarity is the case-insensitive Jaro-Winkler similarity of two texts in
// [0,1], compared rune by rune. Empty inputs are never similar.
func Similarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0
	}
	fold := cases.Fold()
	a, b = fold.String(a), fold.String(b)
	if isASCII(a) && isASCII(b) {
		return smetrics.JaroWinkler(a, b, 0.7, 4)
	}
	// smetrics indexes bytes; multi-byte runes sharing a UTF-8 lead byte
	// would otherwise count as matches.
	return jaroWinklerRunes([]rune(a), []rune(b), 0.7, 4)
}

func jaroWinklerRunes(a, b []rune, boostThreshold float64, prefixSize int) float64 {
	j := jaroRunes(a, b)
	if j <= boostThreshold {
		return j
	}
	n := min(prefixSize, len(a), len(b))
	var prefix float64
	for i := 0; i < n && a[i] == b[i]; i++ {
		prefix++
	}
	return j + 0.1*prefix*(1-j)
}

func jaroRunes(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matchRange := max(0, max(len(a), len(b))/2-1)
	matchedA := make([]bool, len(a))
	matchedB := make([]bool, len(b))
	matches := 0
	for i := range a {
		for j := max(0, i-matchRange); j <= min(len(b)-1, i+matchRange); j++ {
			if !matchedB[j] && a[i] == b[j] {
				matchedA[i], matchedB[j] = true, true
				matches++
				break
			}
		}
	}
	if matches == 0 {
		return 0
	}
	unaligned, j := 0, 0
	for i := range a {
		if !matchedA[i] {
			continue
		}
		for !matchedB[j] {
			j++
		}
		if a[i] != b[j] {
			unaligned++
		}
		j++
	}
	m := float64(matches)
	t := float64(unaligned / 2)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}
