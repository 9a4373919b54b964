package governance

import (
	"context"
	"time"
)

// ProposalStore is the persistence seam the state machine drives. The
// postgres package implements it; domain code never touches SQL directly.
type ProposalStore interface {
	// FindByFingerprint returns the existing row sharing a fingerprint, if any.
	FindByFingerprint(ctx context.Context, fingerprint string) (*Proposal, error)
	Insert(ctx context.Context, p Proposal) error
	LinkEpisode(ctx context.Context, proposalID, episodeID string) error
	Get(ctx context.Context, proposalID string) (*Proposal, error)
	List(ctx context.Context, status *Status, criticType *CriticType, limit, offset int) ([]Proposal, error)
	// UpdateStatus performs a compare-and-set transition: it only applies
	// when the row's current status equals expectedCurrent (P11 monotonicity).
	UpdateStatus(ctx context.Context, proposalID string, expectedCurrent, newStatus Status, fields ProposalReviewFields) error
	TransitionDraftToPending(ctx context.Context, episodeID string) (int64, error)
	EpisodesSharingFingerprint(ctx context.Context, fingerprint string) ([]string, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// ProposalReviewFields carries the fields a review transition sets.
type ProposalReviewFields struct {
	ReviewedAt           time.Time
	ReviewerID           string
	ReviewRationale      string
	DoctrineVersionAfter *string
}

// LedgerStore persists immutable governance-ledger entries.
type LedgerStore interface {
	Write(ctx context.Context, entry LedgerEntry) error
	ByProposal(ctx context.Context, proposalID string) ([]LedgerEntry, error)
	Recent(ctx context.Context, limit int) ([]LedgerEntry, error)
	CountByAction(ctx context.Context, action Action) (int64, error)
	FinalizedEpisodeCount(ctx context.Context) (int64, error)
}

// DoctrineStore persists doctrine version history with a single active row.
type DoctrineStore interface {
	ActiveVersion(ctx context.Context) (*DoctrineVersion, error)
	Initialize(ctx context.Context, version, description string) error
	Insert(ctx context.Context, v DoctrineVersion) error
	Deactivate(ctx context.Context, version string) error
	Activate(ctx context.Context, version string) error
	Get(ctx context.Context, version string) (*DoctrineVersion, error)
	History(ctx context.Context, limit int) ([]DoctrineVersion, error)
	Count(ctx context.Context) (int64, error)
}
