package scoring

import "github.com/nextlevelbuilder/replyengine/internal/features"

// Weights maps feature names to linear model coefficients.
type Weights map[string]float64

// Thresholds split interest probability into ignore / ambiguous / high.
type Thresholds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Normalize clamps both bounds into [0,1] and swaps them if Low > High.
func (t Thresholds) Normalize() Thresholds {
	t.Low = features.Clamp01(t.Low)
	t.High = features.Clamp01(t.High)
	if t.Low > t.High {
		t.Low, t.High = t.High, t.Low
	}
	return t
}

// Model is an immutable scoring configuration. Share it by pointer; never
// mutate a Model after it has been handed out.
type Model struct {
	Version        int        `json:"version"`
	ContentWeights Weights    `json:"contentWeights"`
	BudgetWeights  Weights    `json:"budgetWeights"`
	Thresholds     Thresholds `json:"thresholds"`
}

// DefaultModel returns the built-in calibration.
func DefaultModel() *Model {
	return &Model{
		Version: 1,
		ContentWeights: Weights{
			features.Bias:                      -0.5,
			features.PunctuationOnly:           -1.2,
			features.MentionByAt:               1.8,
			features.MentionByName:             1.2,
			features.TokenInIdealRange:         1.0,
			features.TokenTooLong:              -1.0,
			features.TokenShortMeaningful:      0.6,
			features.SegmentCountHigh:          0.7,
			features.AverageSegmentLengthGood:  0.5,
			features.LexicalDiversityLow:       -0.9,
			features.LexicalDiversityHigh:      0.4,
			features.UniqueCharRatioLow:        -0.8,
			features.HighPunctuationRatio:      -0.8,
			features.VeryShortLowInfo:          -0.7,
			features.EmojiOnly:                 -1.2,
			features.EmojiRatioHigh:            -0.8,
			features.EmojiRatioMedium:          -0.5,
			features.HighURLRatio:              -0.8,
			features.MediumURLRatio:            -0.6,
			features.RecentSenderDuplicate:     -0.7,
			features.RecentSenderNearDuplicate: -0.5,
			features.Followup:                  0.8,
		},
		BudgetWeights: Weights{
			features.Bias:            1.0,
			features.SenderFatigue:   -2.0,
			features.GroupFatigue:    -1.6,
			features.SenderReplyRate: -1.4,
			features.GroupReplyRate:  -1.0,
		},
		Thresholds: Thresholds{Low: 0.25, High: 0.6},
	}
}

func (w Weights) clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	return &Model{
		Version:        m.Version,
		ContentWeights: m.ContentWeights.clone(),
		BudgetWeights:  m.BudgetWeights.clone(),
		Thresholds:     m.Thresholds,
	}
}
