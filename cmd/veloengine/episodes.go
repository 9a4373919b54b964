package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/racelock/veloengine/internal/application/pipeline"
	"github.com/racelock/veloengine/internal/domain/critique"
	"github.com/racelock/veloengine/internal/domain/episodes"
	"github.com/racelock/veloengine/internal/domain/governance"
	"github.com/racelock/veloengine/internal/engine"
	infradb "github.com/racelock/veloengine/internal/infrastructure/db"
)

// recordEpisode opens the PRE_STATE/INFERENCE half of a race's episodic
// record (C16) right after a `run`, so the shadow runner has something to
// finalize once the result is known. A no-op when the caller supplied no
// --db-dsn: episode tracking is opt-in, unlike the governance/episode
// repositories `serve` and `governance` always require.
func recordEpisode(dsn, redisAddr string, result *pipeline.Result, opts pipeline.Options) error {
	if dsn == "" {
		return nil
	}
	mgr, err := infradb.Connect(infradb.Config{DSN: dsn, QueryTimeout: 10 * time.Second, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer mgr.Close()

	gov := governance.NewService(mgr.Repos.Proposals, mgr.Repos.Ledger, mgr.Repos.Doctrine)
	runner := episodes.NewRunner(mgr.Repos.Episodes, gov)

	raceCtx := map[string]any{
		"race_id":     opts.RaceCtx.RaceID,
		"course":      opts.RaceCtx.Course,
		"going":       opts.RaceCtx.Going,
		"class_level": opts.RaceCtx.ClassLevel,
		"field_size":  opts.RaceCtx.FieldSize,
	}
	episodeID, err := runner.CreateEpisode(context.Background(), opts.RaceCtx.RaceID, opts.RaceCtx.DecisionTime, raceCtx)
	if err != nil {
		return fmt.Errorf("create episode: %w", err)
	}

	preState := map[string]any{"race_context": raceCtx, "runner_count": len(opts.Runners)}
	inference := map[string]any{
		"engine_run_id": result.EngineRunID,
		"top_strike":    result.Decision.TopStrikeSelection,
		"confidence":    result.Decision.Confidence,
		"learning_gate": string(result.LearningGate.Status),
	}

	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		cache := episodes.NewRedisCache(client, 30*time.Minute)
		ctx := context.Background()
		if err := cache.Put(ctx, episodeID, episodes.ArtifactPreState, preState); err != nil {
			return fmt.Errorf("cache PRE_STATE: %w", err)
		}
		if err := cache.Put(ctx, episodeID, episodes.ArtifactInference, inference); err != nil {
			return fmt.Errorf("cache INFERENCE: %w", err)
		}
	}

	if err := runner.WriteArtifact(context.Background(), episodeID, episodes.ArtifactPreState, preState); err != nil {
		return fmt.Errorf("write PRE_STATE: %w", err)
	}
	if err := runner.WriteArtifact(context.Background(), episodeID, episodes.ArtifactInference, inference); err != nil {
		return fmt.Errorf("write INFERENCE: %w", err)
	}

	fmt.Printf("episode_id=%s (PRE_STATE/INFERENCE recorded, pending finalize)\n", episodeID)
	return nil
}

type finalizeInputDTO struct {
	EpisodeID  string         `json:"episode_id"`
	EngineRun  string         `json:"engine_run_dir"`
	WinnerID   string         `json:"winner_id"`
	Positions  map[string]int `json:"positions"`
	GateStatus string         `json:"gate_status"`
}

// newFinalizeCmd builds the command that closes out an episode once a race's
// result is known: it writes the OUTCOME artifact, runs the post-race
// critique (C17), hands any DRAFT proposals to governance as PENDING, and
// evicts the episode's Redis cache entries now that Postgres is
// authoritative.
func newFinalizeCmd(dsn *string) *cobra.Command {
	var redisAddr string
	cmd := &cobra.Command{
		Use:   "finalize [result-file]",
		Short: "Close out an episode with its actual result and run the post-race critique (C16/C17)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *dsn == "" {
				return fmt.Errorf("finalize requires --db-dsn (or VELOENGINE_DB_DSN)")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read result file: %w", err)
			}
			var in finalizeInputDTO
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse result file: %w", err)
			}

			dir := in.EngineRun
			repo, err := engine.NewRepository(dir)
			if err != nil {
				return err
			}
			runs, err := repo.List(1000)
			if err != nil {
				return err
			}
			var run *engine.EngineRun
			for _, id := range runs {
				candidate, err := repo.Load(id)
				if err != nil {
					continue
				}
				if candidate.RaceCtx.RaceID == in.EpisodeID || candidate.EngineRunID == in.EpisodeID {
					run = candidate
					break
				}
			}
			if run == nil {
				return fmt.Errorf("no EngineRun found matching episode %s in %s", in.EpisodeID, dir)
			}

			mgr, err := infradb.Connect(infradb.Config{DSN: *dsn, QueryTimeout: 10 * time.Second, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer mgr.Close()

			gov := governance.NewService(mgr.Repos.Proposals, mgr.Repos.Ledger, mgr.Repos.Doctrine)
			runner := episodes.NewRunner(mgr.Repos.Episodes, gov)

			engineInstance := critique.NewEngine()
			result := engineInstance.Critique(run, in.GateStatus, critique.Outcome{WinnerID: in.WinnerID, Positions: in.Positions})

			outcome := map[string]any{
				"actual_winner":      result.ActualWinner,
				"prediction_correct": result.PredictionCorrect,
				"top4_hit":           result.Top4Hit,
				"why_won":            result.WhyWon,
				"why_lost":           result.WhyLost,
			}
			ctx := context.Background()
			proposals, err := critique.PersistThresholdNudges(ctx, gov, in.EpisodeID, result)
			if err != nil {
				return fmt.Errorf("persist threshold nudges: %w", err)
			}

			if err := runner.FinalizeRace(ctx, in.EpisodeID, outcome); err != nil {
				return fmt.Errorf("finalize episode: %w", err)
			}

			if redisAddr != "" {
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer client.Close()
				cache := episodes.NewRedisCache(client, 30*time.Minute)
				if err := cache.Evict(ctx, in.EpisodeID); err != nil {
					return fmt.Errorf("evict episode cache: %w", err)
				}
			}

			fmt.Printf("episode_id=%s finalized prediction_correct=%v nudges_proposed=%d\n", in.EpisodeID, result.PredictionCorrect, len(proposals))
			return nil
		},
	}
	cmd.Flags().StringVar(&redisAddr, "redis-addr", os.Getenv("VELOENGINE_REDIS_ADDR"), "Redis address for episode-cache eviction")
	return cmd
}
