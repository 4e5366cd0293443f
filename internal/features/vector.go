package features

// Vector maps feature names to values. Binary features are 1 when present and
// absent otherwise; bias is always 1.
type Vector map[string]float64

// Feature names. These are the keys scoring model weights are matched against.
const (
	Bias = "bias"

	PunctuationOnly           = "punctuationOnly"
	MentionByAt               = "mentionByAt"
	MentionByName             = "mentionByName"
	TokenInIdealRange         = "tokenInIdealRange"
	TokenTooLong              = "tokenTooLong"
	TokenShortMeaningful      = "tokenShortMeaningful"
	SegmentCountHigh          = "segmentCountHigh"
	AverageSegmentLengthGood  = "averageSegmentLengthGood"
	LexicalDiversityLow       = "lexicalDiversityLow"
	LexicalDiversityHigh      = "lexicalDiversityHigh"
	UniqueCharRatioLow        = "uniqueCharRatioLow"
	HighPunctuationRatio      = "highPunctuationRatio"
	VeryShortLowInfo          = "veryShortLowInfo"
	EmojiOnly                 = "emojiOnly"
	EmojiRatioHigh            = "emojiRatioHigh"
	EmojiRatioMedium          = "emojiRatioMedium"
	HighURLRatio              = "highUrlRatio"
	MediumURLRatio            = "mediumUrlRatio"
	RecentSenderDuplicate     = "recentSenderDuplicate"
	RecentSenderNearDuplicate = "recentSenderNearDuplicate"
	Followup                  = "followup"

	SenderFatigue   = "senderFatigue"
	GroupFatigue    = "groupFatigue"
	SenderReplyRate = "senderReplyRate"
	GroupReplyRate  = "groupReplyRate"
)

// ContentKeys lists every content feature, bias first.
var ContentKeys = []string{
	Bias, PunctuationOnly, MentionByAt, MentionByName, TokenInIdealRange,
	TokenTooLong, TokenShortMeaningful, SegmentCountHigh, AverageSegmentLengthGood,
	LexicalDiversityLow, LexicalDiversityHigh, UniqueCharRatioLow,
	HighPunctuationRatio, VeryShortLowInfo, EmojiOnly, EmojiRatioHigh,
	EmojiRatioMedium, HighURLRatio, MediumURLRatio, RecentSenderDuplicate,
	RecentSenderNearDuplicate, Followup,
}

// BudgetKeys lists every budget feature, bias first.
var BudgetKeys = []string{Bias, SenderFatigue, GroupFatigue, SenderReplyRate, GroupReplyRate}

// Has reports whether a binary feature is set.
func (v Vector) Has(name string) bool { return v[name] != 0 }

func (v Vector) set(name string) { v[name] = 1 }

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}
