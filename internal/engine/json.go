package engine

import (
	"encoding/json"
	"time"

	"github.com/racelock/veloengine/internal/domain/raceinput"
)

// The wire representation is a plain, explicitly-tagged DTO tree rather than
// json tags directly on the domain types in raceinput — keeps the canonical
// serialization contract (stable field names, ISO-8601 timestamps) decoupled
// from internal struct shape changes elsewhere in the pipeline.

type raceContextDTO struct {
	RaceID       string         `json:"race_id"`
	Course       string         `json:"course"`
	DecisionTime string         `json:"decision_time"`
	Distance     int            `json:"distance"`
	Going        string         `json:"going"`
	ClassLevel   int            `json:"class_level"`
	Surface      string         `json:"surface"`
	FieldSize    int            `json:"field_size"`
	RaceType     string         `json:"race_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type runnerMarketDTO struct {
	RunnerID    string   `json:"runner_id"`
	OddsDecimal float64  `json:"odds_decimal"`
	Volume      *float64 `json:"volume,omitempty"`
	IsFavorite  *bool    `json:"is_favorite,omitempty"`
}

type marketContextDTO struct {
	RaceID            string            `json:"race_id"`
	SnapshotTimestamp string            `json:"snapshot_timestamp"`
	Runners           []runnerMarketDTO `json:"runners"`
	Metadata          map[string]any    `json:"market_metadata,omitempty"`
}

type runnerScoreDTO struct {
	RunnerID     string         `json:"runner_id"`
	HorseName    string         `json:"horse_name"`
	AbilityScore float64        `json:"ability_score"`
	IntentScore  float64        `json:"intent_score"`
	MarketRole   string         `json:"market_role"`
	SLEHits      []string       `json:"sle_hits,omitempty"`
	RedteamRisk  float64        `json:"redteam_risk"`
	FinalScore   float64        `json:"final_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type verdictDTO struct {
	TopStrikeSelection string         `json:"top_strike_selection,omitempty"`
	Top4Structure      []string       `json:"top4_structure,omitempty"`
	ValueEW            []string       `json:"value_ew,omitempty"`
	FadeZone           []string       `json:"fade_zone,omitempty"`
	WinSuppressed      bool           `json:"win_suppressed"`
	SuppressionReason  string         `json:"suppression_reason,omitempty"`
	Confidence         float64        `json:"confidence"`
	Notes              map[string]any `json:"notes,omitempty"`
}

type engineRunDTO struct {
	EngineRunID       string           `json:"engine_run_id"`
	DecisionTimestamp string           `json:"decision_timestamp"`
	RaceCtx           raceContextDTO   `json:"race_ctx"`
	MarketCtx         marketContextDTO `json:"market_ctx"`
	RunnerScores      []runnerScoreDTO `json:"runner_scores"`
	Verdict           *verdictDTO      `json:"verdict"`
	Mode              string           `json:"mode"`
	ChaosLevel        float64          `json:"chaos_level"`
	PipelineVersion   string           `json:"pipeline_version"`
	ExecutionTimeMS   *float64         `json:"execution_time_ms,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

func toDTO(r *EngineRun) engineRunDTO {
	runners := make([]runnerMarketDTO, len(r.MarketCtx.Runners))
	for i, rm := range r.MarketCtx.Runners {
		runners[i] = runnerMarketDTO{
			RunnerID:    rm.RunnerID,
			OddsDecimal: rm.OddsDecimal,
			Volume:      rm.Volume,
			IsFavorite:  rm.IsFavorite,
		}
	}

	scores := make([]runnerScoreDTO, len(r.RunnerScores))
	for i, s := range r.RunnerScores {
		scores[i] = runnerScoreDTO{
			RunnerID:     s.RunnerID,
			HorseName:    s.HorseName,
			AbilityScore: s.AbilityScore,
			IntentScore:  s.IntentScore,
			MarketRole:   string(s.MarketRole),
			SLEHits:      s.SLEHits,
			RedteamRisk:  s.RedteamRisk,
			FinalScore:   s.FinalScore,
			Metadata:     s.Metadata,
		}
	}

	var verdict *verdictDTO
	if r.Verdict != nil {
		verdict = &verdictDTO{
			TopStrikeSelection: r.Verdict.TopStrikeSelection,
			Top4Structure:      r.Verdict.Top4Structure,
			ValueEW:            r.Verdict.ValueEW,
			FadeZone:           r.Verdict.FadeZone,
			WinSuppressed:      r.Verdict.WinSuppressed,
			SuppressionReason:  r.Verdict.SuppressionReason,
			Confidence:         r.Verdict.Confidence,
			Notes:              r.Verdict.Notes,
		}
	}

	return engineRunDTO{
		EngineRunID:       r.EngineRunID,
		DecisionTimestamp: r.DecisionTimestamp.UTC().Format(time.RFC3339Nano),
		RaceCtx: raceContextDTO{
			RaceID:       r.RaceCtx.RaceID,
			Course:       r.RaceCtx.Course,
			DecisionTime: r.RaceCtx.DecisionTime.UTC().Format(time.RFC3339Nano),
			Distance:     r.RaceCtx.Distance,
			Going:        r.RaceCtx.Going,
			ClassLevel:   r.RaceCtx.ClassLevel,
			Surface:      r.RaceCtx.Surface,
			FieldSize:    r.RaceCtx.FieldSize,
			RaceType:     r.RaceCtx.RaceType,
			Metadata:     r.RaceCtx.Metadata,
		},
		MarketCtx: marketContextDTO{
			RaceID:            r.MarketCtx.RaceID,
			SnapshotTimestamp: r.MarketCtx.SnapshotTimestamp.UTC().Format(time.RFC3339Nano),
			Runners:           runners,
			Metadata:          r.MarketCtx.Metadata,
		},
		RunnerScores:    scores,
		Verdict:         verdict,
		Mode:            string(r.Mode),
		ChaosLevel:      r.ChaosLevel,
		PipelineVersion: r.PipelineVersion,
		ExecutionTimeMS: r.ExecutionTimeMS,
		Metadata:        r.Metadata,
	}
}

func fromDTO(d engineRunDTO) (*EngineRun, error) {
	decisionTimestamp, err := time.Parse(time.RFC3339Nano, d.DecisionTimestamp)
	if err != nil {
		return nil, err
	}
	raceDecisionTime, err := time.Parse(time.RFC3339Nano, d.RaceCtx.DecisionTime)
	if err != nil {
		return nil, err
	}
	snapshot, err := time.Parse(time.RFC3339Nano, d.MarketCtx.SnapshotTimestamp)
	if err != nil {
		return nil, err
	}

	runners := make([]raceinput.RunnerMarket, len(d.MarketCtx.Runners))
	for i, rm := range d.MarketCtx.Runners {
		runners[i] = raceinput.RunnerMarket{
			RunnerID:    rm.RunnerID,
			OddsDecimal: rm.OddsDecimal,
			Volume:      rm.Volume,
			IsFavorite:  rm.IsFavorite,
		}
	}

	scores := make([]RunnerScore, len(d.RunnerScores))
	for i, s := range d.RunnerScores {
		scores[i] = RunnerScore{
			RunnerID:     s.RunnerID,
			HorseName:    s.HorseName,
			AbilityScore: s.AbilityScore,
			IntentScore:  s.IntentScore,
			MarketRole:   raceinput.MarketRole(s.MarketRole),
			SLEHits:      s.SLEHits,
			RedteamRisk:  s.RedteamRisk,
			FinalScore:   s.FinalScore,
			Metadata:     s.Metadata,
		}
	}

	var verdict *Verdict
	if d.Verdict != nil {
		verdict = &Verdict{
			TopStrikeSelection: d.Verdict.TopStrikeSelection,
			Top4Structure:      d.Verdict.Top4Structure,
			ValueEW:            d.Verdict.ValueEW,
			FadeZone:           d.Verdict.FadeZone,
			WinSuppressed:      d.Verdict.WinSuppressed,
			SuppressionReason:  d.Verdict.SuppressionReason,
			Confidence:         d.Verdict.Confidence,
			Notes:              d.Verdict.Notes,
		}
	}

	return &EngineRun{
		EngineRunID:       d.EngineRunID,
		DecisionTimestamp: decisionTimestamp,
		RaceCtx: raceinput.RaceContext{
			RaceID:       d.RaceCtx.RaceID,
			Course:       d.RaceCtx.Course,
			DecisionTime: raceDecisionTime,
			Distance:     d.RaceCtx.Distance,
			Going:        d.RaceCtx.Going,
			ClassLevel:   d.RaceCtx.ClassLevel,
			Surface:      d.RaceCtx.Surface,
			FieldSize:    d.RaceCtx.FieldSize,
			RaceType:     d.RaceCtx.RaceType,
			Metadata:     d.RaceCtx.Metadata,
		},
		MarketCtx: raceinput.MarketContext{
			RaceID:            d.MarketCtx.RaceID,
			SnapshotTimestamp: snapshot,
			Runners:           runners,
			Metadata:          d.MarketCtx.Metadata,
		},
		RunnerScores:    scores,
		Verdict:         verdict,
		Mode:            Mode(d.Mode),
		ChaosLevel:      d.ChaosLevel,
		PipelineVersion: d.PipelineVersion,
		ExecutionTimeMS: d.ExecutionTimeMS,
		Metadata:        d.Metadata,
	}, nil
}

// MarshalJSON implements the canonical serialization contract (§4.13):
// sorted map keys (encoding/json's default) and RFC3339 timestamps with
// explicit UTC offset.
func (r *EngineRun) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDTO(r))
}

// UnmarshalJSON is the inverse of MarshalJSON; from_dict(to_dict(run)) ==
// run holds across all fields except RaceCtx.AgeBand and
// RaceCtx.SexRestriction, which the wire format does not carry.
func (r *EngineRun) UnmarshalJSON(data []byte) error {
	var d engineRunDTO
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	parsed, err := fromDTO(d)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
