// Package engine is the canonical EngineRun record (C13): the single
// reproducible artifact that bundles a race's inputs, intermediate scores,
// and final verdict. Grounded on app/engine/engine_run.py, with
// engine_run_id derivation made deterministic per spec.md §4.13 rather than
// the source's random uuid4 default.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/racelock/veloengine/internal/domain/raceinput"
)

// RunnerScore is one runner's scored contribution to an EngineRun, a flatter
// sibling of raceinput.ScoreBreakdown kept stable across pipeline_version
// changes.
type RunnerScore struct {
	RunnerID      string
	HorseName     string
	AbilityScore  float64
	IntentScore   float64
	MarketRole    raceinput.MarketRole
	SLEHits       []string
	RedteamRisk   float64
	FinalScore    float64
	Metadata      map[string]any
}

// Verdict is the final decision-policy output embedded in an EngineRun.
type Verdict struct {
	TopStrikeSelection string
	Top4Structure      []string
	ValueEW            []string
	FadeZone           []string
	WinSuppressed      bool
	SuppressionReason  string
	Confidence         float64
	Notes              map[string]any
}

// Mode is the run's operating context.
type Mode string

const (
	ModeRace       Mode = "RACE"
	ModeBacktest   Mode = "BACKTEST"
	ModeSimulation Mode = "SIMULATION"
)

// PipelineVersion is stamped on every EngineRun for replay compatibility.
const PipelineVersion = "v1.0"

// EngineRun is the complete, reproducible record: inputs plus outputs.
// Every verdict must be reconstructible from its stored EngineRun alone.
type EngineRun struct {
	EngineRunID      string
	DecisionTimestamp time.Time
	RaceCtx          raceinput.RaceContext
	MarketCtx        raceinput.MarketContext
	RunnerScores     []RunnerScore
	Verdict          *Verdict
	Mode             Mode
	ChaosLevel       float64
	PipelineVersion  string
	ExecutionTimeMS  *float64
	Metadata         map[string]any
}

// DeriveRunID computes engine_run_id = SHA-256(race_id || "_" || decision_timestamp)[:16].
// The timestamp is serialized RFC3339 (UTC offset explicit) to keep the
// digest stable across processes and timezones.
func DeriveRunID(raceID string, decisionTime time.Time) string {
	sum := sha256.Sum256([]byte(raceID + "_" + decisionTime.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// New builds an EngineRun with a derived EngineRunID and PipelineVersion set.
func New(raceCtx raceinput.RaceContext, marketCtx raceinput.MarketContext, decisionTime time.Time, mode Mode, chaosLevel float64) *EngineRun {
	return &EngineRun{
		EngineRunID:       DeriveRunID(raceCtx.RaceID, decisionTime),
		DecisionTimestamp: decisionTime,
		RaceCtx:           raceCtx,
		MarketCtx:         marketCtx,
		Mode:              mode,
		ChaosLevel:        chaosLevel,
		PipelineVersion:   PipelineVersion,
		Metadata:          map[string]any{},
	}
}

// AddRunnerScore appends a runner's score to the run.
func (r *EngineRun) AddRunnerScore(score RunnerScore) {
	r.RunnerScores = append(r.RunnerScores, score)
}

// SetVerdict attaches the final decision-policy verdict.
func (r *EngineRun) SetVerdict(v Verdict) {
	r.Verdict = &v
}

// GetRunnerScore finds a runner's score by ID, nil if absent.
func (r *EngineRun) GetRunnerScore(runnerID string) *RunnerScore {
	for i := range r.RunnerScores {
		if r.RunnerScores[i].RunnerID == runnerID {
			return &r.RunnerScores[i]
		}
	}
	return nil
}

// Summary renders a short human-readable description for logs and CLI output.
func (r *EngineRun) Summary() string {
	topStrike := "None"
	top4 := ""
	suppressed := false
	if r.Verdict != nil {
		if r.Verdict.TopStrikeSelection != "" {
			topStrike = r.Verdict.TopStrikeSelection
		}
		suppressed = r.Verdict.WinSuppressed
		for i, id := range r.Verdict.Top4Structure {
			if i > 0 {
				top4 += ", "
			}
			top4 += id
		}
	}
	return "Engine Run: " + r.EngineRunID + "\n" +
		"Race: " + r.RaceCtx.RaceID + "\n" +
		"Mode: " + string(r.Mode) + "\n" +
		"Top Strike: " + topStrike + "\n" +
		"Top-4: " + top4 + "\n" +
		"Win Suppressed: " + boolStr(suppressed)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
