package scoring

import (
	"math"

	"github.com/nextlevelbuilder/replyengine/internal/features"
)

// Breakdown is the result of scoring one feature pair.
type Breakdown struct {
	ContentZ     float64 `json:"content_z"`
	BudgetZ      float64 `json:"budget_z"`
	PContent     float64 `json:"p_content"`
	BudgetFactor float64 `json:"budget_factor"`
	Probability  float64 `json:"probability"`
}

// Sigmoid is the logistic function, saturating to exactly 0 or 1 beyond ±20.
// Non-finite input yields 0.5.
func Sigmoid(x float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsInf(x, 0):
		return 0.5
	case x > 20:
		return 1
	case x < -20:
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

// Linear sums weight*feature over the weights. Zero or non-finite weights and
// non-finite feature values contribute nothing; missing features count as 0.
func Linear(f features.Vector, w Weights) float64 {
	var sum float64
	for name, weight := range w {
		if weight == 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			continue
		}
		v, ok := f[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v * weight
	}
	return sum
}

// Score computes the interest probability of a message. It is pure.
func Score(content, budget features.Vector, m *Model) Breakdown {
	var b Breakdown
	b.ContentZ = Linear(content, m.ContentWeights)
	b.PContent = Sigmoid(b.ContentZ)
	b.BudgetZ = Linear(budget, m.BudgetWeights)
	b.BudgetFactor = features.Clamp01(Sigmoid(b.BudgetZ))
	b.Probability = features.Clamp01(b.PContent * b.BudgetFactor)
	return b
}
