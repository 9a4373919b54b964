package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/racelock/veloengine/internal/domain/governance"
	"github.com/racelock/veloengine/internal/errs"
)

// doctrineRow mirrors doctrine_versions (spec.md §6). Grounded on
// doctrine_manager.DoctrineManager.
type doctrineRow struct {
	Version       string         `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
	CreatedBy     string         `db:"created_by"`
	Description   string         `db:"description"`
	RulesSnapshot []byte         `db:"rules_snapshot"`
	ParentVersion sql.NullString `db:"parent_version"`
	Active        bool           `db:"active"`
}

func (r doctrineRow) toDomain() (governance.DoctrineVersion, error) {
	var snapshot map[string]any
	if len(r.RulesSnapshot) > 0 {
		if err := json.Unmarshal(r.RulesSnapshot, &snapshot); err != nil {
			return governance.DoctrineVersion{}, errs.Wrap(errs.StorageIO, "decode rules_snapshot", err, map[string]any{"version": r.Version})
		}
	}
	v := governance.DoctrineVersion{
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		CreatedBy:     r.CreatedBy,
		Description:   r.Description,
		RulesSnapshot: snapshot,
		Active:        r.Active,
	}
	if r.ParentVersion.Valid {
		v.ParentVersion = &r.ParentVersion.String
	}
	return v, nil
}

type doctrineRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	br      *breaker
}

// NewDoctrineRepo creates a PostgreSQL-backed governance.DoctrineStore.
func NewDoctrineRepo(db *sqlx.DB, timeout time.Duration) governance.DoctrineStore {
	return &doctrineRepo{db: db, timeout: timeout, br: newBreaker("doctrine_repo")}
}

func (r *doctrineRepo) ActiveVersion(ctx context.Context) (*governance.DoctrineVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row doctrineRow
	err := r.db.GetContext(ctx, &row, `
		SELECT version, created_at, created_by, description, rules_snapshot, parent_version, active
		FROM doctrine_versions WHERE active = TRUE`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "get active doctrine version", err, nil)
	}
	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *doctrineRepo) Initialize(ctx context.Context, version, description string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO doctrine_versions (version, created_at, created_by, description, rules_snapshot, parent_version, active)
			VALUES ($1, $2, 'system', $3, $4, NULL, TRUE)
			ON CONFLICT (version) DO NOTHING`,
			version, time.Now().UTC(), description, []byte("{}"))
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "initialize doctrine version", err, map[string]any{"version": version})
	}
	return nil
}

func (r *doctrineRepo) Insert(ctx context.Context, v governance.DoctrineVersion) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snapshotJSON, err := json.Marshal(v.RulesSnapshot)
	if err != nil {
		return errs.Wrap(errs.StorageIO, "encode rules_snapshot", err, map[string]any{"version": v.Version})
	}

	_, err = r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO doctrine_versions (version, created_at, created_by, description, rules_snapshot, parent_version, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.Version, v.CreatedAt, v.CreatedBy, v.Description, snapshotJSON, v.ParentVersion, v.Active)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "insert doctrine version", err, map[string]any{"version": v.Version})
	}
	return nil
}

func (r *doctrineRepo) Deactivate(ctx context.Context, version string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `UPDATE doctrine_versions SET active = FALSE WHERE version = $1`, version)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "deactivate doctrine version", err, map[string]any{"version": version})
	}
	return nil
}

func (r *doctrineRepo) Activate(ctx context.Context, version string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `UPDATE doctrine_versions SET active = TRUE WHERE version = $1`, version)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "activate doctrine version", err, map[string]any{"version": version})
	}
	return nil
}

func (r *doctrineRepo) Get(ctx context.Context, version string) (*governance.DoctrineVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row doctrineRow
	err := r.db.GetContext(ctx, &row, `
		SELECT version, created_at, created_by, description, rules_snapshot, parent_version, active
		FROM doctrine_versions WHERE version = $1`, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "get doctrine version", err, map[string]any{"version": version})
	}
	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *doctrineRepo) History(ctx context.Context, limit int) ([]governance.DoctrineVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []doctrineRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT version, created_at, created_by, description, rules_snapshot, parent_version, active
		FROM doctrine_versions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "list doctrine version history", err, nil)
	}

	out := make([]governance.DoctrineVersion, 0, len(rows))
	for _, row := range rows {
		v, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *doctrineRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM doctrine_versions`); err != nil {
		return 0, errs.Wrap(errs.StorageIO, "count doctrine versions", err, nil)
	}
	return count, nil
}
