package classify

import (
	"math"
	"regexp"

	"github.com/creamytech/Castra-site-sub000/core/domain"
)

// =============================================================================
// Score Blender & Status Decider
// =============================================================================

// Status thresholds. Changing these shifts the notify gate for every user, so
// they are package constants rather than configuration.
const (
	StatusLeadMin      = 80
	StatusPotentialMin = 60
	llmWeight          = 0.4
)

// Blend combines the bounded rule score with the model's 0-100 confidence.
// The rule score dominates the floor; the LLM contributes at most 40% of its
// own value so a single model call cannot override the deterministic signal.
// Non-decreasing in both arguments, capped at 100.
func Blend(ruleScore, llmScore int) int {
	blended := ruleScore + int(math.Round(float64(llmScore)*llmWeight))
	if blended > 100 {
		blended = 100
	}
	if blended < 0 {
		blended = 0
	}
	return blended
}

var vendorReasonRe = regexp.MustCompile(`(?i)newsletter|unsubscribe|vendor|marketing|promotional|advertis|bulk mail|mass email|solicitation|cold outreach|spam`)

// DecideStatus maps a blended score plus the model's reason text onto a
// lifecycle status. The vendor-reason override only fires below the potential
// threshold: a score of 60+ earned on real signals is never demoted by reason
// text alone.
func DecideStatus(score int, llmReason string) domain.LeadStatus {
	if score < StatusPotentialMin && vendorReasonRe.MatchString(llmReason) {
		return domain.LeadStatusNoLead
	}
	switch {
	case score >= StatusLeadMin:
		return domain.LeadStatusLead
	case score >= StatusPotentialMin:
		return domain.LeadStatusPotential
	default:
		return domain.LeadStatusNoLead
	}
}
