package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/racelock/veloengine/internal/domain/governance"
	"github.com/racelock/veloengine/internal/errs"
)

// ledgerRow mirrors governance_ledger (spec.md §6): an append-only audit
// trail. Grounded on ledger.GovernanceLedger.write_entry/get_recent_entries.
type ledgerRow struct {
	ID                      string    `db:"id"`
	ProposalID              string    `db:"proposal_id"`
	Action                  string    `db:"action"`
	Actor                   string    `db:"actor"`
	Timestamp               time.Time `db:"timestamp"`
	Rationale               string    `db:"rationale"`
	DoctrineVersionSnapshot string    `db:"doctrine_version_snapshot"`
	EpisodeCountAtDecision  int       `db:"episode_count_at_decision"`
	Metadata                []byte    `db:"metadata"`
}

func (r ledgerRow) toDomain() (governance.LedgerEntry, error) {
	var meta map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return governance.LedgerEntry{}, errs.Wrap(errs.StorageIO, "decode ledger metadata", err, map[string]any{"id": r.ID})
		}
	}
	return governance.LedgerEntry{
		ID:                      r.ID,
		ProposalID:              r.ProposalID,
		Action:                  governance.Action(r.Action),
		Actor:                   r.Actor,
		Timestamp:               r.Timestamp,
		Rationale:               r.Rationale,
		DoctrineVersionSnapshot: r.DoctrineVersionSnapshot,
		EpisodeCountAtDecision:  r.EpisodeCountAtDecision,
		Metadata:                meta,
	}, nil
}

type ledgerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	br      *breaker
}

// NewLedgerRepo creates a PostgreSQL-backed governance.LedgerStore.
func NewLedgerRepo(db *sqlx.DB, timeout time.Duration) governance.LedgerStore {
	return &ledgerRepo{db: db, timeout: timeout, br: newBreaker("ledger_repo")}
}

func (r *ledgerRepo) Write(ctx context.Context, entry governance.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errs.Wrap(errs.StorageIO, "encode ledger metadata", err, map[string]any{"id": entry.ID})
	}

	_, err = r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO governance_ledger
			(id, proposal_id, action, actor, timestamp, rationale, doctrine_version_snapshot,
			 episode_count_at_decision, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID, entry.ProposalID, string(entry.Action), entry.Actor, entry.Timestamp,
			entry.Rationale, entry.DoctrineVersionSnapshot, entry.EpisodeCountAtDecision, metaJSON)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "write ledger entry", err, map[string]any{"proposal_id": entry.ProposalID})
	}
	return nil
}

func (r *ledgerRepo) ByProposal(ctx context.Context, proposalID string) ([]governance.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []ledgerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, proposal_id, action, actor, timestamp, rationale,
		       doctrine_version_snapshot, episode_count_at_decision, metadata
		FROM governance_ledger WHERE proposal_id = $1 ORDER BY timestamp DESC`, proposalID)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "list ledger entries by proposal", err, map[string]any{"proposal_id": proposalID})
	}
	return decodeLedgerRows(rows)
}

func (r *ledgerRepo) Recent(ctx context.Context, limit int) ([]governance.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []ledgerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, proposal_id, action, actor, timestamp, rationale,
		       doctrine_version_snapshot, episode_count_at_decision, metadata
		FROM governance_ledger ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "list recent ledger entries", err, nil)
	}
	return decodeLedgerRows(rows)
}

func (r *ledgerRepo) CountByAction(ctx context.Context, action governance.Action) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM governance_ledger WHERE action = $1`, string(action))
	if err != nil {
		return 0, errs.Wrap(errs.StorageIO, "count ledger entries by action", err, map[string]any{"action": action})
	}
	return count, nil
}

func (r *ledgerRepo) FinalizedEpisodeCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM episodes WHERE finalized = TRUE`)
	if err != nil {
		return 0, errs.Wrap(errs.StorageIO, "count finalized episodes", err, nil)
	}
	return count, nil
}

func decodeLedgerRows(rows []ledgerRow) ([]governance.LedgerEntry, error) {
	out := make([]governance.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
