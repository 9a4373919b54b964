package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/racelock/veloengine/internal/domain/episodes"
	"github.com/racelock/veloengine/internal/errs"
)

type episodeRow struct {
	ID          string       `db:"id"`
	DecisionTime time.Time   `db:"decision_time"`
	CreatedAt   time.Time    `db:"created_at"`
	ContextHash string       `db:"context_hash"`
	Finalized   bool         `db:"finalized"`
	FinalizedAt sql.NullTime `db:"finalized_at"`
}

func (r episodeRow) toDomain() episodes.Episode {
	ep := episodes.Episode{
		ID:           r.ID,
		DecisionTime: r.DecisionTime,
		CreatedAt:    r.CreatedAt,
		ContextHash:  r.ContextHash,
		Finalized:    r.Finalized,
	}
	if r.FinalizedAt.Valid {
		ep.FinalizedAt = &r.FinalizedAt.Time
	}
	return ep
}

type artifactRow struct {
	ID           string    `db:"id"`
	EpisodeID    string    `db:"episode_id"`
	ArtifactType string    `db:"artifact_type"`
	Content      []byte    `db:"content"`
	CreatedAt    time.Time `db:"created_at"`
}

type episodeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	br      *breaker
}

// NewEpisodeRepo creates a PostgreSQL-backed episodes.Store.
func NewEpisodeRepo(db *sqlx.DB, timeout time.Duration) episodes.Store {
	return &episodeRepo{db: db, timeout: timeout, br: newBreaker("episode_repo")}
}

func (r *episodeRepo) CreateEpisodeIfAbsent(ctx context.Context, ep episodes.Episode) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO episodes (id, decision_time, created_at, context_hash, finalized)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			ep.ID, ep.DecisionTime, ep.CreatedAt, ep.ContextHash, ep.Finalized)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "create episode", err, map[string]any{"episode_id": ep.ID})
	}
	return nil
}

func (r *episodeRepo) WriteArtifact(ctx context.Context, a episodes.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	contentJSON, err := json.Marshal(a.Content)
	if err != nil {
		return errs.Wrap(errs.StorageIO, "encode artifact content", err, map[string]any{"artifact_id": a.ID})
	}

	_, err = r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO episode_artifacts (id, episode_id, artifact_type, content, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, created_at = EXCLUDED.created_at`,
			a.ID, a.EpisodeID, string(a.ArtifactType), contentJSON, a.CreatedAt)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "write episode artifact", err, map[string]any{"artifact_id": a.ID})
	}
	return nil
}

func (r *episodeRepo) Finalize(ctx context.Context, episodeID string, finalizedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.br.execResult(func() (sql.Result, error) {
		return r.db.ExecContext(ctx,
			`UPDATE episodes SET finalized = TRUE, finalized_at = $1 WHERE id = $2`, finalizedAt, episodeID)
	})
	if err != nil {
		return errs.Wrap(errs.StorageIO, "finalize episode", err, map[string]any{"episode_id": episodeID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.StorageIO, "read rows affected", err, map[string]any{"episode_id": episodeID})
	}
	if n == 0 {
		return errs.New(errs.NotFound, "episode not found", map[string]any{"episode_id": episodeID})
	}
	return nil
}

func (r *episodeRepo) Get(ctx context.Context, episodeID string) (*episodes.Episode, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row episodeRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, decision_time, created_at, context_hash, finalized, finalized_at
		 FROM episodes WHERE id = $1`, episodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "episode not found", map[string]any{"episode_id": episodeID})
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "get episode", err, map[string]any{"episode_id": episodeID})
	}
	ep := row.toDomain()
	return &ep, nil
}

func (r *episodeRepo) GetArtifact(ctx context.Context, episodeID string, artifactType episodes.ArtifactType) (*episodes.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row artifactRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, episode_id, artifact_type, content, created_at
		 FROM episode_artifacts WHERE episode_id = $1 AND artifact_type = $2`,
		episodeID, string(artifactType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "artifact not found", map[string]any{"episode_id": episodeID, "artifact_type": artifactType})
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageIO, "get episode artifact", err, map[string]any{"episode_id": episodeID})
	}

	var content map[string]any
	if len(row.Content) > 0 {
		if err := json.Unmarshal(row.Content, &content); err != nil {
			return nil, errs.Wrap(errs.StorageIO, "decode artifact content", err, map[string]any{"artifact_id": row.ID})
		}
	}
	return &episodes.Artifact{
		ID:           row.ID,
		EpisodeID:    row.EpisodeID,
		ArtifactType: episodes.ArtifactType(row.ArtifactType),
		Content:      content,
		CreatedAt:    row.CreatedAt,
	}, nil
}
