// Package governance implements the proposal lifecycle (C15): fingerprint
// dedup, the DRAFT→PENDING→{ACCEPTED,REJECTED}→ROLLED_BACK state machine, the
// doctrine version manager, and the immutable decision ledger. Grounded on
// src/v13/governance/{fingerprint,transitions,doctrine_manager,ledger}.py,
// reworked from direct sqlite3 access into store interfaces the postgres
// package implements.
package governance

import "time"

// CriticType names the critic family that raised a proposal.
type CriticType string

const (
	CriticLeakage  CriticType = "LEAKAGE"
	CriticBias     CriticType = "BIAS"
	CriticFeature  CriticType = "FEATURE"
	CriticDecision CriticType = "DECISION"
)

// Severity ranks a proposal's urgency.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Status is a proposal's lifecycle state.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Action is a governance-ledger entry kind.
type Action string

const (
	ActionAccept   Action = "ACCEPT"
	ActionReject   Action = "REJECT"
	ActionRollback Action = "ROLLBACK"
)

// ChangeType is a doctrine semantic-version bump category.
type ChangeType string

const (
	ChangeMajor ChangeType = "MAJOR"
	ChangeMinor ChangeType = "MINOR"
	ChangePatch ChangeType = "PATCH"
)

// BaselineDoctrineVersion is seeded on first call to ActiveDoctrineVersion.
const BaselineDoctrineVersion = "13.0.0"

// Proposal is one row of patch_proposals (§6). Duplicates (same fingerprint)
// share a row; only their episode links multiply via EpisodeIDs.
type Proposal struct {
	ID                    string
	EpisodeID             string // originating episode
	EpisodeIDs            []string
	CriticType            CriticType
	Severity              Severity
	FindingType            string
	Description           string
	ProposedChange        map[string]any
	Fingerprint           string
	Status                Status
	CreatedAt             time.Time
	ReviewedAt            *time.Time
	ReviewerID            *string
	ReviewRationale       *string
	DoctrineVersionBefore *string
	DoctrineVersionAfter  *string
}

// LedgerEntry is one immutable governance-decision record.
type LedgerEntry struct {
	ID                     string
	ProposalID             string
	Action                 Action
	Actor                  string
	Timestamp              time.Time
	Rationale              string
	DoctrineVersionSnapshot string
	EpisodeCountAtDecision int
	Metadata               map[string]any
}

// DoctrineVersion is one row of doctrine_versions.
type DoctrineVersion struct {
	Version        string
	CreatedAt      time.Time
	CreatedBy      string
	Description    string
	RulesSnapshot  map[string]any
	ParentVersion  *string
	Active         bool
}

// Stats is the governance summary returned by getStats().
type Stats struct {
	CountsByStatus  map[Status]int64
	AcceptanceRate  float64
	ActiveVersion   string
}

// ProposalDetail enriches a Proposal with cross-episode dedup context and
// ledger history, matching getProposal()'s "similar_episodes" enrichment.
type ProposalDetail struct {
	Proposal
	SimilarEpisodes []string
	LedgerHistory   []LedgerEntry
}
