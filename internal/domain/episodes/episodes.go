// Package episodes implements the episodic/shadow runner (C16): epistemic-
// time episode creation, PRE_STATE/INFERENCE/OUTCOME artifact capture, and
// finalization hand-off into governance. Grounded on
// operations/shadow_racing_runner.py's ShadowRacingRunner, reworked from
// direct sqlite3 calls into the Store/Cache interfaces this package defines.
package episodes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/racelock/veloengine/internal/domain/governance"
	"github.com/racelock/veloengine/internal/errs"
)

// ArtifactType names one of the three typed per-episode blobs.
type ArtifactType string

const (
	ArtifactPreState  ArtifactType = "PRE_STATE"
	ArtifactInference ArtifactType = "INFERENCE"
	ArtifactOutcome   ArtifactType = "OUTCOME"
)

// Episode is one observed race's epistemic-time record (spec.md §3).
type Episode struct {
	ID           string
	DecisionTime time.Time
	CreatedAt    time.Time
	ContextHash  string
	Finalized    bool
	FinalizedAt  *time.Time
}

// Artifact is one typed, checksummed payload attached to an episode.
type Artifact struct {
	ID           string // "{episode_id}_{artifact_type}"
	EpisodeID    string
	ArtifactType ArtifactType
	Content      map[string]any
	Checksum     string
	CreatedAt    time.Time
}

// Store persists episodes and their artifacts.
type Store interface {
	CreateEpisodeIfAbsent(ctx context.Context, ep Episode) error
	WriteArtifact(ctx context.Context, a Artifact) error
	Finalize(ctx context.Context, episodeID string, finalizedAt time.Time) error
	Get(ctx context.Context, episodeID string) (*Episode, error)
	GetArtifact(ctx context.Context, episodeID string, artifactType ArtifactType) (*Artifact, error)
}

// Runner drives the shadow-racing lifecycle for one race at a time.
// Grounded on ShadowRacingRunner; the constitutional guarantee it states —
// no auto-apply, no learning, no doctrine mutation — holds here too: Runner
// never calls governance.Service.Accept/Reject/Rollback, only
// TransitionToPending.
type Runner struct {
	Store      Store
	Governance *governance.Service
	Now        func() time.Time
}

func NewRunner(store Store, gov *governance.Service) *Runner {
	return &Runner{Store: store, Governance: gov, Now: time.Now}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// DeriveEpisodeID matches spec.md §4.16: "race_" + date(decision_time) + "_" + race_id.
func DeriveEpisodeID(raceID string, decisionTime time.Time) string {
	return fmt.Sprintf("race_%s_%s", decisionTime.UTC().Format("2006-01-02"), raceID)
}

// ContextHash is a stable 16-hex digest of the episode's race context,
// grounded on ShadowRacingRunner._create_episode's sha256(sorted json)[:16].
func ContextHash(context map[string]any) (string, error) {
	canonical, err := json.Marshal(context)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

func checksum(payload map[string]any) (string, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

// CreateEpisode idempotently creates the episode row for a race, per §4.16's
// decision_time = off_time - 10m contract (the caller computes decision_time;
// Runner only derives the ID and context hash from it).
func (r *Runner) CreateEpisode(ctx context.Context, raceID string, decisionTime time.Time, raceContext map[string]any) (string, error) {
	episodeID := DeriveEpisodeID(raceID, decisionTime)
	hash, err := ContextHash(raceContext)
	if err != nil {
		return "", errs.Wrap(errs.StorageIO, "hash episode context", err, map[string]any{"episode_id": episodeID})
	}

	if err := r.Store.CreateEpisodeIfAbsent(ctx, Episode{
		ID:           episodeID,
		DecisionTime: decisionTime,
		CreatedAt:    r.now(),
		ContextHash:  hash,
		Finalized:    false,
	}); err != nil {
		return "", err
	}
	return episodeID, nil
}

// WriteArtifact stores a checksummed PRE_STATE/INFERENCE/OUTCOME blob.
func (r *Runner) WriteArtifact(ctx context.Context, episodeID string, artifactType ArtifactType, payload map[string]any) error {
	sum, _, err := checksum(payload)
	if err != nil {
		return errs.Wrap(errs.StorageIO, "checksum artifact payload", err, map[string]any{"episode_id": episodeID, "artifact_type": artifactType})
	}
	return r.Store.WriteArtifact(ctx, Artifact{
		ID:           fmt.Sprintf("%s_%s", episodeID, artifactType),
		EpisodeID:    episodeID,
		ArtifactType: artifactType,
		Content:      payload,
		Checksum:     sum,
		CreatedAt:    r.now(),
	})
}

// FinalizeRace writes the OUTCOME artifact, marks the episode finalized, and
// hands open DRAFT proposals to governance as PENDING. No learning or
// doctrine mutation happens here (§4.16 constitutional guarantee).
func (r *Runner) FinalizeRace(ctx context.Context, episodeID string, outcome map[string]any) error {
	if err := r.WriteArtifact(ctx, episodeID, ArtifactOutcome, outcome); err != nil {
		return err
	}
	if err := r.Store.Finalize(ctx, episodeID, r.now()); err != nil {
		return err
	}
	if r.Governance != nil {
		if _, err := r.Governance.TransitionToPending(ctx, episodeID); err != nil {
			return err
		}
	}
	return nil
}
