package planner

import "github.com/opensource-finance/weaver/internal/domain"

// AdjustWeights applies the behavior boost for the profile's label to the
// baseline weight table and returns a new table with the same key set.
// The input table is never mutated. An unrecognized behavior label means
// neutral: the baseline comes back unchanged (as a copy). Categories in
// the table that the boost does not name keep their weight, and boost
// categories absent from the table are ignored.
func (c *CompiledConfig) AdjustWeights(profile *domain.BehaviorProfile) domain.CategoryWeights {
	adjusted := c.Config.Weights.Clone()

	cb, ok := c.boosts[profile.Behavior]
	if !ok {
		return adjusted
	}
	if !guardAllows(cb.guard, profile) {
		return adjusted
	}

	for _, cat := range cb.boost.Categories {
		if w, exists := adjusted[cat]; exists {
			adjusted[cat] = w * cb.boost.Factor
		}
	}

	return adjusted
}
