package governance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/racelock/veloengine/internal/errs"
)

// Service wires the proposal, ledger, and doctrine stores into the
// transition operations named in §4.15. Grounded on
// transitions.ProposalTransitions + ledger.GovernanceLedger +
// doctrine_manager.DoctrineManager, collapsed into one Go type since the
// three Python classes only ever operate on the same db_connection.
type Service struct {
	Proposals ProposalStore
	Ledger    LedgerStore
	Doctrine  DoctrineStore
	Now       func() time.Time
}

func NewService(proposals ProposalStore, ledger LedgerStore, doctrine DoctrineStore) *Service {
	return &Service{Proposals: proposals, Ledger: ledger, Doctrine: doctrine, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// PersistProposals fingerprints each proposal; an existing row with the same
// fingerprint is linked to episodeID instead of duplicated (dedup per P-row
// invariant in spec.md §3).
func (s *Service) PersistProposals(ctx context.Context, episodeID string, criticType CriticType, proposals []ProposalDraft) ([]Proposal, error) {
	out := make([]Proposal, 0, len(proposals))
	for _, draft := range proposals {
		fp, err := Fingerprint(criticType, draft.FindingType, draft.ProposedChange)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidState, "fingerprint proposal", err, map[string]any{"episode_id": episodeID})
		}

		existing, err := s.Proposals.FindByFingerprint(ctx, fp)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := s.Proposals.LinkEpisode(ctx, existing.ID, episodeID); err != nil {
				return nil, err
			}
			out = append(out, *existing)
			continue
		}

		p := Proposal{
			ID:             uuid.NewString(),
			EpisodeID:      episodeID,
			EpisodeIDs:     []string{episodeID},
			CriticType:     criticType,
			Severity:       draft.Severity,
			FindingType:    draft.FindingType,
			Description:    draft.Description,
			ProposedChange: draft.ProposedChange,
			Fingerprint:    fp,
			Status:         StatusDraft,
			CreatedAt:      s.now(),
		}
		if err := s.Proposals.Insert(ctx, p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ProposalDraft is the critic-supplied payload before fingerprinting/ID
// assignment.
type ProposalDraft struct {
	Severity       Severity
	FindingType    string
	Description    string
	ProposedChange map[string]any
}

// TransitionToPending flips every DRAFT proposal anchored to or linked with
// episodeID, called when the episode finalizes (§4.16).
func (s *Service) TransitionToPending(ctx context.Context, episodeID string) (int64, error) {
	return s.Proposals.TransitionDraftToPending(ctx, episodeID)
}

// Accept requires current state PENDING (P11 monotonicity); bumps the
// doctrine version (default MINOR) and writes an ACCEPT ledger entry.
func (s *Service) Accept(ctx context.Context, proposalID, reviewer, rationale string, bump ChangeType, rulesSnapshot map[string]any) (*Proposal, error) {
	if bump == "" {
		bump = ChangeMinor
	}
	p, err := s.Proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, errs.New(errs.InvalidState, "proposal not PENDING", map[string]any{"proposal_id": proposalID, "status": p.Status})
	}

	newVersion, err := s.BumpDoctrineVersion(ctx, bump, "accepted proposal "+proposalID, reviewer, rulesSnapshot)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.Proposals.UpdateStatus(ctx, proposalID, StatusPending, StatusAccepted, ProposalReviewFields{
		ReviewedAt:           now,
		ReviewerID:           reviewer,
		ReviewRationale:      rationale,
		DoctrineVersionAfter: &newVersion,
	}); err != nil {
		return nil, err
	}

	if err := s.writeLedgerEntry(ctx, proposalID, ActionAccept, reviewer, rationale, newVersion); err != nil {
		return nil, err
	}

	p.Status = StatusAccepted
	p.ReviewedAt = &now
	p.ReviewerID = &reviewer
	p.ReviewRationale = &rationale
	p.DoctrineVersionAfter = &newVersion
	return p, nil
}

// Reject mirrors Accept without a version bump.
func (s *Service) Reject(ctx context.Context, proposalID, reviewer, rationale string) (*Proposal, error) {
	p, err := s.Proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, errs.New(errs.InvalidState, "proposal not PENDING", map[string]any{"proposal_id": proposalID, "status": p.Status})
	}

	activeVersion, err := s.ActiveDoctrineVersion(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.Proposals.UpdateStatus(ctx, proposalID, StatusPending, StatusRejected, ProposalReviewFields{
		ReviewedAt:      now,
		ReviewerID:      reviewer,
		ReviewRationale: rationale,
	}); err != nil {
		return nil, err
	}

	if err := s.writeLedgerEntry(ctx, proposalID, ActionReject, reviewer, rationale, activeVersion); err != nil {
		return nil, err
	}

	p.Status = StatusRejected
	p.ReviewedAt = &now
	p.ReviewerID = &reviewer
	p.ReviewRationale = &rationale
	return p, nil
}

// Rollback requires ACCEPTED; sets ROLLED_BACK and writes a ROLLBACK ledger
// entry. It does not revert the doctrine version bump the original accept
// performed — doctrine rollback is a separate, explicit DoctrineManager call.
func (s *Service) Rollback(ctx context.Context, proposalID, reviewer, rationale string) (*Proposal, error) {
	p, err := s.Proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusAccepted {
		return nil, errs.New(errs.InvalidState, "proposal not ACCEPTED", map[string]any{"proposal_id": proposalID, "status": p.Status})
	}

	activeVersion, err := s.ActiveDoctrineVersion(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.Proposals.UpdateStatus(ctx, proposalID, StatusAccepted, StatusRolledBack, ProposalReviewFields{
		ReviewedAt:      s.now(),
		ReviewerID:      reviewer,
		ReviewRationale: rationale,
	}); err != nil {
		return nil, err
	}

	if err := s.writeLedgerEntry(ctx, proposalID, ActionRollback, reviewer, rationale, activeVersion); err != nil {
		return nil, err
	}

	p.Status = StatusRolledBack
	return p, nil
}

func (s *Service) writeLedgerEntry(ctx context.Context, proposalID string, action Action, actor, rationale, doctrineVersion string) error {
	episodeCount, err := s.Ledger.FinalizedEpisodeCount(ctx)
	if err != nil {
		return err
	}
	return s.Ledger.Write(ctx, LedgerEntry{
		ID:                     uuid.NewString(),
		ProposalID:             proposalID,
		Action:                 action,
		Actor:                  actor,
		Timestamp:              s.now(),
		Rationale:              rationale,
		DoctrineVersionSnapshot: doctrineVersion,
		EpisodeCountAtDecision: int(episodeCount),
	})
}

// GetProposal enriches a proposal with cross-episode dedup context and
// ledger history (§4.15 getProposal()).
func (s *Service) GetProposal(ctx context.Context, proposalID string) (*ProposalDetail, error) {
	p, err := s.Proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	similar, err := s.Proposals.EpisodesSharingFingerprint(ctx, p.Fingerprint)
	if err != nil {
		return nil, err
	}
	history, err := s.Ledger.ByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return &ProposalDetail{Proposal: *p, SimilarEpisodes: similar, LedgerHistory: history}, nil
}

// ListProposals is the listProposals() API surface call.
func (s *Service) ListProposals(ctx context.Context, status *Status, criticType *CriticType, limit, offset int) ([]Proposal, error) {
	return s.Proposals.List(ctx, status, criticType, limit, offset)
}

// GetLedger is the getLedger() API surface call.
func (s *Service) GetLedger(ctx context.Context, limit int) ([]LedgerEntry, error) {
	return s.Ledger.Recent(ctx, limit)
}

// GetStats is the getStats() API surface call.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	counts, err := s.Proposals.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	accepted, err := s.Ledger.CountByAction(ctx, ActionAccept)
	if err != nil {
		return nil, err
	}
	rejected, err := s.Ledger.CountByAction(ctx, ActionReject)
	if err != nil {
		return nil, err
	}
	var rate float64
	if total := accepted + rejected; total > 0 {
		rate = float64(accepted) / float64(total)
	}
	active, err := s.ActiveDoctrineVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{CountsByStatus: counts, AcceptanceRate: rate, ActiveVersion: active}, nil
}
