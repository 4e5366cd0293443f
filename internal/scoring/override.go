package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/titanous/json5"
)

// ErrConfigParse marks a scoring override source that could not be parsed.
var ErrConfigParse = errors.New("scoring model override parse error")

// Override is a partial model. Nil or empty parts leave the base untouched.
type Override struct {
	Version        *int
	ContentWeights Weights
	BudgetWeights  Weights
	Low            *float64
	High           *float64
}

// ParseOverride decodes a JSON/JSON5 override object. Unknown keys are
// ignored; non-numeric or non-finite weights are dropped; thresholds outside
// [0,1] are dropped. Only a source that is not an object is an error.
func ParseOverride(src string) (Override, error) {
	var o Override
	src = strings.TrimSpace(src)
	if src == "" {
		return o, nil
	}
	var raw map[string]interface{}
	if err := json5.Unmarshal([]byte(src), &raw); err != nil {
		return o, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	o.ContentWeights = numericWeights(raw["contentWeights"])
	o.BudgetWeights = numericWeights(raw["budgetWeights"])

	if th, ok := raw["thresholds"].(map[string]interface{}); ok {
		o.Low = unitValue(th, "low", "lowProbability")
		o.High = unitValue(th, "high", "highProbability")
	}
	if v, ok := finite(raw["version"]); ok {
		n := int(v)
		o.Version = &n
	}
	return o, nil
}

// Merge applies o over base and returns a new model. base is not modified.
// Override values take precedence per key; thresholds are re-sorted so Low <= High.
func Merge(base *Model, o Override) *Model {
	m := base.Clone()
	for k, v := range o.ContentWeights {
		m.ContentWeights[k] = v
	}
	for k, v := range o.BudgetWeights {
		m.BudgetWeights[k] = v
	}
	if o.Low != nil {
		m.Thresholds.Low = *o.Low
	}
	if o.High != nil {
		m.Thresholds.High = *o.High
	}
	m.Thresholds = m.Thresholds.Normalize()
	if o.Version != nil {
		m.Version = *o.Version
	}
	return m
}

func numericWeights(v interface{}) Weights {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	w := make(Weights, len(obj))
	for k, x := range obj {
		if f, ok := finite(x); ok {
			w[k] = f
		}
	}
	return w
}

// unitValue returns the first key present with a finite value in [0,1].
func unitValue(obj map[string]interface{}, keys ...string) *float64 {
	for _, k := range keys {
		f, ok := finite(obj[k])
		if !ok || f < 0 || f > 1 {
			continue
		}
		return &f
	}
	return nil
}

func finite(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
