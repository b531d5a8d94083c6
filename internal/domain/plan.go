package domain

import (
	"fmt"
	"time"
)

// PlanConfig is the configuration collaborator as data: everything the
// planner core needs for one allocation run lives here, never hard-coded
// inside the core. Configs are stored in the repository and hot-reloaded
// into the planner registry, like any other runtime configuration.
type PlanConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	// AllowedCategories is the closed category set for this config.
	AllowedCategories []string `json:"allowedCategories"`

	// Weights is the baseline category weight table.
	Weights CategoryWeights `json:"weights"`

	// Behaviors maps a behavior label to its boost policy.
	Behaviors map[string]BehaviorBoost `json:"behaviors,omitempty"`

	// BiasCurves holds per-category weekday multiplier curves (Monday=0,
	// exactly 7 entries). DefaultCurve applies to categories without one.
	BiasCurves   map[string][]float64 `json:"biasCurves,omitempty"`
	DefaultCurve []float64            `json:"defaultCurve,omitempty"`

	// Cooldowns is the minimum day-gap between successive allocations to
	// the same category. Zero means no restriction.
	Cooldowns map[string]int `json:"cooldowns,omitempty"`

	// AnomalyK is the stdev multiplier for the anomaly threshold.
	AnomalyK float64 `json:"anomalyK"`

	Cohort CohortPolicy `json:"cohort"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// BehaviorBoost multiplies the weights of the listed categories when the
// profile carries the boost's behavior label.
type BehaviorBoost struct {
	// Factor is the weight multiplier, e.g. 1.5.
	Factor float64 `json:"factor"`

	// Categories lists the category names the factor applies to.
	Categories []string `json:"categories"`

	// Guard is an optional CEL expression over the profile
	// (behavior, region, income). When set, the boost applies only if
	// the expression evaluates to true. Compiled at config load.
	Guard string `json:"guard,omitempty"`
}

// CohortPolicy drives cohort classification. Income band thresholds are
// configuration, not constants.
type CohortPolicy struct {
	// HighIncome and MidIncome are the lower bounds of the "high" and
	// "mid" income bands. Anything below MidIncome is "low".
	HighIncome float64 `json:"highIncome"`
	MidIncome  float64 `json:"midIncome"`

	// Styles maps behavior labels to a style band (saver/spender/neutral).
	Styles map[string]string `json:"styles,omitempty"`

	// EngagementCategories marks a profile "challenge-prone" when any of
	// its recent categories appears here.
	EngagementCategories []string `json:"engagementCategories,omitempty"`
}

// DefaultAnomalyK is used when a config does not set AnomalyK.
const DefaultAnomalyK = 2.5

// Validate checks structural invariants at the boundary, before a config
// is loaded into the planner registry.
func (c *PlanConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("plan config: id is required")
	}
	if len(c.Weights) == 0 {
		return fmt.Errorf("plan config %s: weight table is empty", c.ID)
	}

	allowed := make(map[string]bool, len(c.AllowedCategories))
	for _, cat := range c.AllowedCategories {
		allowed[cat] = true
	}

	for cat, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("plan config %s: negative weight for %q", c.ID, cat)
		}
		if len(allowed) > 0 && !allowed[cat] {
			return fmt.Errorf("plan config %s: unknown category %q in weight table", c.ID, cat)
		}
	}

	for cat, curve := range c.BiasCurves {
		if len(curve) != 7 {
			return fmt.Errorf("plan config %s: bias curve for %q has %d entries, want 7", c.ID, cat, len(curve))
		}
		for i, m := range curve {
			if m < 0 {
				return fmt.Errorf("plan config %s: negative bias multiplier for %q at weekday %d", c.ID, cat, i)
			}
		}
	}
	if c.DefaultCurve != nil && len(c.DefaultCurve) != 7 {
		return fmt.Errorf("plan config %s: default curve has %d entries, want 7", c.ID, len(c.DefaultCurve))
	}

	for cat, cd := range c.Cooldowns {
		if cd < 0 {
			return fmt.Errorf("plan config %s: negative cooldown for %q", c.ID, cat)
		}
	}

	for label, boost := range c.Behaviors {
		if boost.Factor < 0 {
			return fmt.Errorf("plan config %s: negative boost factor for behavior %q", c.ID, label)
		}
	}

	return nil
}

// AnomalyThresholdK returns the configured K or the default.
func (c *PlanConfig) AnomalyThresholdK() float64 {
	if c.AnomalyK > 0 {
		return c.AnomalyK
	}
	return DefaultAnomalyK
}
