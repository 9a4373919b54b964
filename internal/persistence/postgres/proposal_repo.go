package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/racelock/veloengine/internal/domain/governance"
	"github.com/racelock/veloengine/internal/errs"
)

// proposalRow mirrors patch_proposals (spec.md §6), with JSON columns
// unmarshaled into Go maps only at scan time. Grounded on
// persistence/postgres/premove_repo.go's sqlx.DB + timeout-context pattern.
type proposalRow struct {
	ID                    string         `db:"id"`
	EpisodeID             string         `db:"episode_id"`
	CriticType            string         `db:"critic_type"`
	Severity              string         `db:"severity"`
	FindingType           string         `db:"finding_type"`
	Description           string         `db:"description"`
	ProposedChange        []byte         `db:"proposed_change"`
	Fingerprint           string         `db:"fingerprint"`
	Status                string         `db:"status"`
	CreatedAt             time.Time      `db:"created_at"`
	ReviewedAt            sql.NullTime   `db:"reviewed_at"`
	ReviewerID            sql.NullString `db:"reviewer_id"`
	ReviewRationale       sql.NullString `db:"review_rationale"`
	DoctrineVersionBefore sql.NullString `db:"doctrine_version_before"`
	DoctrineVersionAfter  sql.NullString `db:"doctrine_version_after"`
}

func (r proposalRow) toDomain() (*governance.Proposal, error) {
	var change map[string]any
	if len(r.ProposedChange) > 0 {
		if err := json.Unmarshal(r.ProposedChange, &change); err != nil {
			return nil, errs.Wrap(errs.StorageIO, "decode proposed_change", err, map[string]any{"proposal_id": r.ID})
		}
	}
	p := &governance.Proposal{
		ID:             r.ID,
		EpisodeID:      r.EpisodeID,
		CriticType:     governance.CriticType(r.CriticType),
		Severity:       governance.Severity(r.Severity),
		FindingType:    r.FindingType,
		Description:    r.Description,
		ProposedChange: change,
		Fingerprint:    r.Fingerprint,
		Status:         governance.Status(r.Status),
		CreatedAt:      r.CreatedAt,
	}
	if r.ReviewedAt.Valid {
		p.ReviewedAt = &r.ReviewedAt.Time
	}
	if r.ReviewerID.Valid {
		p.ReviewerID = &r.ReviewerID.String
	}
	if r.ReviewRationale.Valid {
		p.ReviewRationale = &r.ReviewRationale.String
	}
	if r.DoctrineVersionBefore.Valid {
		p.DoctrineVersionBefore = &r.DoctrineVersionBefore.String
	}
	if r.DoctrineVersionAfter.Valid {
		p.DoctrineVersionAfter = &r.DoctrineVersionAfter.String
	}
	return p, nil
}

type proposalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	br      *breaker
}

// NewProposalRepo creates a PostgreSQL-backed governance.ProposalStore.
func NewProposalRepo(db *sqlx.DB, timeout time.Duration) governance.ProposalStore {
	return &proposalRepo{db: db, timeout: timeout, br: newBreaker("proposal_repo")}
}

func (r *proposalRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*governance.Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row proposalRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, episode_id, critic_type, severity, finding_type, description,
		        proposed_change, fingerprint, status, created_at, reviewed_at, reviewer_id,
		        review_rationale, doctrine_version_before, doctrine_version_after
		 FROM patch_proposals WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "find proposal by fingerprint", err, map[string]any{"fingerprint": fingerprint})
	}
	return row.toDomain()
}

func (r *proposalRepo) Insert(ctx context.Context, p governance.Proposal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	changeJSON, err := json.Marshal(p.ProposedChange)
	if err != nil {
		return errs.Wrap(errs.StorageIO, "encode proposed_change", err, map[string]any{"proposal_id": p.ID})
	}

	_, err = r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO patch_proposals
			(id, episode_id, critic_type, severity, finding_type, description,
			 proposed_change, fingerprint, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			p.ID, p.EpisodeID, string(p.CriticType), string(p.Severity), p.FindingType,
			p.Description, changeJSON, p.Fingerprint, string(p.Status), p.CreatedAt)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "insert proposal", err, map[string]any{"proposal_id": p.ID})
	}

	_, err = r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx,
			`INSERT INTO proposal_episodes (proposal_id, episode_id) VALUES ($1, $2)
			 ON CONFLICT (proposal_id, episode_id) DO NOTHING`, p.ID, p.EpisodeID)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "link originating episode", err, map[string]any{"proposal_id": p.ID})
	}
	return nil
}

func (r *proposalRepo) LinkEpisode(ctx context.Context, proposalID, episodeID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx,
			`INSERT INTO proposal_episodes (proposal_id, episode_id) VALUES ($1, $2)
			 ON CONFLICT (proposal_id, episode_id) DO NOTHING`, proposalID, episodeID)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "link episode to proposal", err, map[string]any{"proposal_id": proposalID, "episode_id": episodeID})
	}
	return nil
}

func (r *proposalRepo) Get(ctx context.Context, proposalID string) (*governance.Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row proposalRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, episode_id, critic_type, severity, finding_type, description,
		        proposed_change, fingerprint, status, created_at, reviewed_at, reviewer_id,
		        review_rationale, doctrine_version_before, doctrine_version_after
		 FROM patch_proposals WHERE id = $1`, proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "proposal not found", map[string]any{"proposal_id": proposalID})
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "get proposal", err, map[string]any{"proposal_id": proposalID})
	}
	return row.toDomain()
}

func (r *proposalRepo) List(ctx context.Context, status *governance.Status, criticType *governance.CriticType, limit, offset int) ([]governance.Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT id, episode_id, critic_type, severity, finding_type, description,
	                 proposed_change, fingerprint, status, created_at, reviewed_at, reviewer_id,
	                 review_rationale, doctrine_version_before, doctrine_version_after
	          FROM patch_proposals WHERE 1=1`
	args := []any{}
	if status != nil {
		args = append(args, string(*status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if criticType != nil {
		args = append(args, string(*criticType))
		query += fmt.Sprintf(" AND critic_type = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var rows []proposalRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errs.Wrap(errs.StorageIO, "list proposals", err, nil)
	}

	out := make([]governance.Proposal, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *proposalRepo) UpdateStatus(ctx context.Context, proposalID string, expectedCurrent, newStatus governance.Status, fields governance.ProposalReviewFields) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			UPDATE patch_proposals
			SET status = $1, reviewed_at = $2, reviewer_id = $3, review_rationale = $4,
			    doctrine_version_after = COALESCE($5, doctrine_version_after)
			WHERE id = $6 AND status = $7`,
			string(newStatus), fields.ReviewedAt, fields.ReviewerID, fields.ReviewRationale,
			fields.DoctrineVersionAfter, proposalID, string(expectedCurrent))
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "update proposal status", err, map[string]any{"proposal_id": proposalID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.StorageIO, "read rows affected", err, map[string]any{"proposal_id": proposalID})
	}
	if n == 0 {
		return errs.New(errs.InvalidState, "proposal not found or not in expected state", map[string]any{
			"proposal_id": proposalID, "expected": expectedCurrent, "target": newStatus,
		})
	}
	return nil
}

func (r *proposalRepo) TransitionDraftToPending(ctx context.Context, episodeID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			UPDATE patch_proposals
			SET status = 'PENDING'
			WHERE status = 'DRAFT' AND (
				episode_id = $1 OR id IN (SELECT proposal_id FROM proposal_episodes WHERE episode_id = $1)
			)`, episodeID)
	})
	if err != nil {
		return 0, errs.Wrap(errs.StorageIO, "transition proposals to pending", err, map[string]any{"episode_id": episodeID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.StorageIO, "read rows affected", err, map[string]any{"episode_id": episodeID})
	}
	return n, nil
}

func (r *proposalRepo) EpisodesSharingFingerprint(ctx context.Context, fingerprint string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var episodeIDs []string
	err := r.db.SelectContext(ctx, &episodeIDs, `
		SELECT pe.episode_id FROM proposal_episodes pe
		JOIN patch_proposals p ON p.id = pe.proposal_id
		WHERE p.fingerprint = $1`, fingerprint)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "list episodes sharing fingerprint", err, map[string]any{"fingerprint": fingerprint})
	}
	return episodeIDs, nil
}

func (r *proposalRepo) CountByStatus(ctx context.Context) (map[governance.Status]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM patch_proposals GROUP BY status`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "count proposals by status", err, nil)
	}
	defer rows.Close()

	out := map[governance.Status]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errs.Wrap(errs.StorageIO, "scan status count", err, nil)
		}
		out[governance.Status(status)] = count
	}
	return out, nil
}

