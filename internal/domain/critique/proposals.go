package critique

import (
	"context"

	"github.com/racelock/veloengine/internal/domain/governance"
)

// ThresholdNudgeProposals turns a critique's threshold adjustments into
// DRAFT governance proposals of critic_type FEATURE. Nudges are never
// applied automatically; they only surface for human review through the
// normal PENDING -> ACCEPTED/REJECTED path once the episode finalizes.
func ThresholdNudgeProposals(r *Result) []governance.ProposalDraft {
	if len(r.ThresholdAdjustments) == 0 {
		return nil
	}

	drafts := make([]governance.ProposalDraft, 0, len(r.ThresholdAdjustments))
	for name, delta := range r.ThresholdAdjustments {
		direction := "raise"
		if delta < 0 {
			direction = "lower"
		}
		drafts = append(drafts, governance.ProposalDraft{
			Severity:    governance.SeverityLow,
			FindingType: "threshold_nudge:" + name,
			Description: "post-race critique of " + r.RaceID + " suggests a bounded " + direction + " to " + name,
			ProposedChange: map[string]any{
				"threshold": name,
				"delta":     delta,
				"reason":    r.GateDecisionReason,
			},
		})
	}
	return drafts
}

// PersistThresholdNudges routes a critique's threshold adjustments through
// governance as DRAFT proposals linked to the race's episode. A no-op when
// the critique proposed no nudges.
func PersistThresholdNudges(ctx context.Context, gov *governance.Service, episodeID string, r *Result) ([]governance.Proposal, error) {
	drafts := ThresholdNudgeProposals(r)
	if len(drafts) == 0 {
		return nil, nil
	}
	return gov.PersistProposals(ctx, episodeID, governance.CriticFeature, drafts)
}
