// Package cohort derives a deterministic cohort tag from a behavior
// profile: region, income band, spending style, and engagement tag joined
// by a fixed delimiter.
package cohort

import (
	"strings"

	"github.com/opensource-finance/weaver/internal/domain"
)

// Delimiter joins the cohort segments.
const Delimiter = ":"

// Fallbacks when the policy leaves a field unset. Income band bounds
// deliberately live in the policy, not here.
const (
	defaultHighIncome = 7000
	defaultMidIncome  = 3000
	regionAny         = "any"
)

// Style bands.
const (
	StyleSaver   = "saver"
	StyleSpender = "spender"
	StyleNeutral = "neutral"
)

// Engagement tags.
const (
	TagChallengeProne = "challenge-prone"
	TagCoreUser       = "core-user"
)

var defaultStyles = map[string]string{
	domain.BehaviorImpulsive: StyleSpender,
	domain.BehaviorSpender:   StyleSpender,
	domain.BehaviorErratic:   StyleSpender,
	domain.BehaviorFrugal:    StyleSaver,
	domain.BehaviorSaver:     StyleSaver,
}

var defaultEngagement = []string{"coffee", "entertainment"}

// Classify maps a profile to its cohort string, e.g. "eu:mid:spender:
// challenge-prone". Pure function of profile and policy; no side effects.
func Classify(profile domain.BehaviorProfile, policy domain.CohortPolicy) string {
	region := strings.ToLower(strings.TrimSpace(profile.Region))
	if region == "" {
		region = regionAny
	}

	segments := []string{
		region,
		incomeBand(profile.Income, policy),
		styleBand(profile.Behavior, policy),
		engagementTag(profile.Categories, policy),
	}

	return strings.Join(segments, Delimiter)
}

func incomeBand(income float64, policy domain.CohortPolicy) string {
	high := policy.HighIncome
	if high <= 0 {
		high = defaultHighIncome
	}
	mid := policy.MidIncome
	if mid <= 0 {
		mid = defaultMidIncome
	}

	switch {
	case income >= high:
		return "high"
	case income >= mid:
		return "mid"
	default:
		return "low"
	}
}

func styleBand(behavior string, policy domain.CohortPolicy) string {
	styles := policy.Styles
	if styles == nil {
		styles = defaultStyles
	}

	if style, ok := styles[behavior]; ok {
		return style
	}
	return StyleNeutral
}

func engagementTag(categories []string, policy domain.CohortPolicy) string {
	engagement := policy.EngagementCategories
	if engagement == nil {
		engagement = defaultEngagement
	}

	hooks := make(map[string]bool, len(engagement))
	for _, c := range engagement {
		hooks[c] = true
	}

	for _, c := range categories {
		if hooks[c] {
			return TagChallengeProne
		}
	}
	return TagCoreUser
}
