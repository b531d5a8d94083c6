package planner

import (
	"fmt"

	"github.com/opensource-finance/weaver/internal/domain"
)

// BiasTable answers weekday bias lookups for a single plan config.
// Curves are indexed Monday=0 and always hold exactly 7 multipliers.
type BiasTable struct {
	curves       map[string][]float64
	defaultCurve []float64
}

// NewBiasTable builds the lookup table from a validated plan config.
func NewBiasTable(cfg *domain.PlanConfig) *BiasTable {
	return &BiasTable{
		curves:       cfg.BiasCurves,
		defaultCurve: cfg.DefaultCurve,
	}
}

// Bias returns the configured multiplier for (category, weekday). Categories
// without a curve fall back to the default curve; with neither configured
// the lookup fails with ErrConfiguration.
func (t *BiasTable) Bias(category string, weekday int) (float64, error) {
	if weekday < 0 || weekday > 6 {
		return 0, fmt.Errorf("%w: weekday %d out of range", ErrConfiguration, weekday)
	}

	if curve, ok := t.curves[category]; ok {
		return curve[weekday], nil
	}
	if t.defaultCurve != nil {
		return t.defaultCurve[weekday], nil
	}

	return 0, fmt.Errorf("%w: no bias curve for category %q and no default curve", ErrConfiguration, category)
}
