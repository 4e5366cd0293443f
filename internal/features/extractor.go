package features

import (
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/replyengine/internal/message"
)

// Input is everything the extractor looks at for one message.
type Input struct {
	Text    string
	Signals message.Signals
	History message.History
}

// Result holds both feature vectors plus the raw measurements behind them.
type Result struct {
	Content    Vector                 `json:"content"`
	Budget     Vector                 `json:"budget"`
	TokenCount int                    `json:"token_count"`
	CharCount  int                    `json:"char_count"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Extractor turns message text and signals into feature vectors.
// It is safe for concurrent use when its TokenCounter is.
type Extractor struct {
	tokens TokenCounter
}

// NewExtractor creates an extractor. A nil counter uses RuneEstimator.
func NewExtractor(tc TokenCounter) *Extractor {
	if tc == nil {
		tc = RuneEstimator{}
	}
	return &Extractor{tokens: tc}
}

// Extract never fails. Any sub-computation that errors or panics leaves its
// features absent.
func (e *Extractor) Extract(in Input) Result {
	text := strings.TrimSpace(in.Text)
	sig := in.Signals
	content := Vector{Bias: 1}
	details := make(map[string]interface{})

	res := Result{
		Content: content,
		Budget:  budgetFeatures(sig, details),
		Details: details,
	}
	if text == "" {
		details["reason"] = "empty_text"
		return res
	}

	followup := sig.IsFollowupAfterBotReply
	wordLike := hasWordRunes(text)
	charCount := utf8.RuneCountInString(text)
	res.CharCount = charCount

	var emojiCount int
	without := text
	guard("emoji", func() { emojiCount, without = emojiScan(text) })

	if punctuationOrSymbolOnly(stripSpace(text)) && !wordLike && emojiCount == 0 && !followup {
		content.set(PunctuationOnly)
	}

	tokenCount := 0
	guard("tokens", func() {
		n, err := e.tokens.CountTokens(text)
		if err != nil {
			slog.Debug("features.tokens", "error", err)
			return
		}
		tokenCount = n
	})
	res.TokenCount = tokenCount

	if sig.MentionedByAt {
		content.set(MentionByAt)
	} else if sig.MentionedByName {
		content.set(MentionByName)
	}

	switch {
	case tokenCount >= 8 && tokenCount <= 256:
		content.set(TokenInIdealRange)
	case tokenCount > 512:
		content.set(TokenTooLong)
	case tokenCount >= 3 && tokenCount < 8 && wordLike:
		content.set(TokenShortMeaningful)
	}

	guard("segments", func() {
		st := Segment(text)
		if st.SegmentCount > 5 {
			content.set(SegmentCountHigh)
		}
		if st.AverageSegmentLength > 2 && st.AverageSegmentLength < 20 {
			content.set(AverageSegmentLengthGood)
		}
		if st.SegmentCount > 0 {
			ld := st.LexicalDiversity()
			details["lexical_diversity"] = round3(ld)
			if st.SegmentCount >= 5 {
				if ld < 0.3 {
					content.set(LexicalDiversityLow)
				} else if ld > 0.7 && st.SegmentCount >= 8 {
					content.set(LexicalDiversityHigh)
				}
			}
		}

		uniqueRatio := float64(uniqueRuneCount(text)) / float64(max(1, charCount))
		if uniqueRatio < 0.4 && charCount >= 4 {
			content.set(UniqueCharRatioLow)
		}

		punctRatio := float64(st.PunctuationRunes) / float64(max(1, charCount))
		details["punctuation_ratio"] = round3(punctRatio)
		if punctRatio > 0.6 && tokenCount < 16 {
			content.set(HighPunctuationRatio)
		}

		if st.SegmentCount <= 3 && charCount <= 8 && !wordLike {
			content.set(VeryShortLowInfo)
		}
		details["segment_count"] = st.SegmentCount
	})

	if emojiCount > 0 {
		ratio := float64(emojiCount) / float64(max(1, charCount))
		details["emoji_count"] = emojiCount
		details["emoji_ratio"] = round3(ratio)
		switch {
		case without == "" && !followup:
			content.set(EmojiOnly)
		case ratio > 0.7 && tokenCount < 32:
			content.set(EmojiRatioHigh)
		case ratio > 0.4 && tokenCount < 32:
			content.set(EmojiRatioMedium)
		}
	}

	guard("urls", func() {
		n, urlRunes := urlStats(text)
		if n == 0 {
			return
		}
		ratio := float64(urlRunes) / float64(max(1, charCount))
		details["url_count"] = n
		details["url_char_ratio"] = round3(ratio)
		switch {
		case ratio > 0.8 && tokenCount < 64:
			content.set(HighURLRatio)
		case ratio > 0.5 && tokenCount < 64:
			content.set(MediumURLRatio)
		}
	})

	var senderMax, groupMax float64
	guard("similarity", func() {
		senderMax = maxSimilarity(text, in.History.SenderRecent)
		groupMax = maxSimilarity(text, in.History.GroupRecent)
	})
	if senderMax > 0 {
		details["sender_max_similarity"] = round3(senderMax)
	}
	if groupMax > 0 {
		details["group_max_similarity"] = round3(groupMax)
	}
	if tokenCount <= 32 && !followup {
		if senderMax >= 0.9 {
			content.set(RecentSenderDuplicate)
		} else if senderMax >= 0.8 {
			content.set(RecentSenderNearDuplicate)
		}
	}

	if followup {
		content.set(Followup)
	}
	return res
}

func budgetFeatures(sig message.Signals, details map[string]interface{}) Vector {
	v := Vector{
		Bias:            1,
		SenderFatigue:   Clamp01(sig.SenderFatigue),
		GroupFatigue:    Clamp01(sig.GroupFatigue),
		SenderReplyRate: Clamp01(sig.SenderReplyCountWindow / 10),
		GroupReplyRate:  Clamp01(sig.GroupReplyCountWindow / 60),
	}
	details["sender_fatigue"] = v[SenderFatigue]
	details["group_fatigue"] = v[GroupFatigue]
	return v
}

func maxSimilarity(text string, recent []message.RecentMessage) float64 {
	var best float64
	for _, m := range recent {
		if s := Similarity(text, m.Text); s > best {
			best = s
		}
	}
	return best
}

// guard runs fn and converts a panic into an absent feature.
func guard(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("features.extract.recovered", "stage", stage, "panic", r)
		}
	}()
	fn()
}

// Clamp01 clamps x into [0,1]; NaN becomes 0.
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }
