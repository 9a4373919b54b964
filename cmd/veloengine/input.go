package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/racelock/veloengine/internal/application/pipeline"
	"github.com/racelock/veloengine/internal/domain/raceinput"
	"github.com/racelock/veloengine/internal/engine"
	"github.com/racelock/veloengine/internal/errs"
)

// runnerInputDTO is the wire shape for one runner in a `run` input file.
// Kept as an explicitly-tagged DTO rather than json tags on raceinput.Runner
// directly, matching internal/engine/json.go's rationale: the input contract
// stays stable even if the domain struct grows fields.
type runnerInputDTO struct {
	RunnerID         string                    `json:"runner_id"`
	HorseName        string                    `json:"horse_name"`
	Age              int                       `json:"age"`
	Sex              string                    `json:"sex"`
	Trainer          string                    `json:"trainer"`
	Jockey           string                    `json:"jockey"`
	FormString       string                    `json:"form_string"`
	OddsDecimal      float64                   `json:"odds_decimal"`
	ORRating         float64                   `json:"or_rating"`
	RPR              float64                   `json:"rpr"`
	TS               float64                   `json:"ts"`
	IsFavorite       bool                      `json:"is_favorite"`
	NotableJockey    bool                      `json:"notable_jockey"`
	LongLayoff       bool                      `json:"long_layoff"`
	ClassRise        bool                      `json:"class_rise"`
	CareerHighMark   bool                      `json:"career_high_mark"`
	RecentPoorForm   bool                      `json:"recent_poor_form"`
	FrontRunnerStyle bool                      `json:"front_runner_style"`
	HistoricalStats  *raceinput.HistoricalStats `json:"historical_stats,omitempty"`

	// The fields below back C5's race-engineering features (raceeng package).
	ClassRating       int     `json:"class_rating"`
	DaysSinceLastRun  int     `json:"days_since_last_run"`
	FirstTimeHeadgear bool    `json:"first_time_headgear"`
	JockeyUpgrade     bool    `json:"jockey_upgrade"`
	ClassMovement     int     `json:"class_movement"`
	StableFormLast14  float64 `json:"stable_form_last_14"`
	MarkFloor         bool    `json:"mark_floor"`
	OddsDrift         float64 `json:"odds_drift"`
}

// runInputDTO is the full `run` command input: a race context, its market
// snapshot, and the runner list.
type runInputDTO struct {
	RaceID        string           `json:"race_id"`
	Course        string           `json:"course"`
	DecisionTime  time.Time        `json:"decision_time"`
	Distance      int              `json:"distance"`
	Going         string           `json:"going"`
	ClassLevel    int              `json:"class_level"`
	Surface       string           `json:"surface"`
	FieldSize     int              `json:"field_size"`
	RaceType      string           `json:"race_type"`
	SnapshotTime  time.Time        `json:"snapshot_timestamp"`
	AgeBand       string           `json:"age_band,omitempty"`
	SexRestriction string          `json:"sex_restriction,omitempty"`
	Runners       []runnerInputDTO `json:"runners"`
	Mode          string           `json:"mode,omitempty"`
	StrictLeakage *bool            `json:"strict_leakage,omitempty"`
}

// loadRunInput reads and decodes a `run` command input file into orchestrator
// Options. Mode defaults to RACE, as pipeline.Run does for an empty
// Options.Mode. StrictLeakage defaults to true here; pipeline.Run takes it as
// given and treats false as audit mode.
func loadRunInput(path string) (pipeline.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Options{}, errs.Wrap(errs.StorageIO, "read run input", err, map[string]any{"path": path})
	}
	var in runInputDTO
	if err := json.Unmarshal(data, &in); err != nil {
		return pipeline.Options{}, errs.Wrap(errs.StorageIO, "parse run input", err, map[string]any{"path": path})
	}

	runners := make([]raceinput.Runner, len(in.Runners))
	marketRunners := make([]raceinput.RunnerMarket, len(in.Runners))
	for i, r := range in.Runners {
		runners[i] = raceinput.Runner{
			RunnerID:         r.RunnerID,
			HorseName:        r.HorseName,
			Age:              r.Age,
			Sex:              r.Sex,
			Trainer:          r.Trainer,
			Jockey:           r.Jockey,
			FormString:       r.FormString,
			OddsDecimal:      r.OddsDecimal,
			ORRating:         r.ORRating,
			RPR:              r.RPR,
			TS:               r.TS,
			IsFavorite:       r.IsFavorite,
			NotableJockey:    r.NotableJockey,
			LongLayoff:       r.LongLayoff,
			ClassRise:        r.ClassRise,
			CareerHighMark:   r.CareerHighMark,
			RecentPoorForm:   r.RecentPoorForm,
			FrontRunnerStyle: r.FrontRunnerStyle,
			HistoricalStats:  r.HistoricalStats,

			ClassRating:       r.ClassRating,
			DaysSinceLastRun:  r.DaysSinceLastRun,
			FirstTimeHeadgear: r.FirstTimeHeadgear,
			JockeyUpgrade:     r.JockeyUpgrade,
			ClassMovement:     r.ClassMovement,
			StableFormLast14:  r.StableFormLast14,
			MarkFloor:         r.MarkFloor,
			OddsDrift:         r.OddsDrift,
		}
		marketRunners[i] = raceinput.RunnerMarket{RunnerID: r.RunnerID, OddsDecimal: r.OddsDecimal, IsFavorite: &in.Runners[i].IsFavorite}
	}

	historicalStats := map[string]raceinput.HistoricalStats{}
	for _, r := range runners {
		if r.HistoricalStats != nil {
			historicalStats[r.RunnerID] = *r.HistoricalStats
		}
	}

	mode := engine.ModeRace
	if in.Mode != "" {
		mode = engine.Mode(in.Mode)
	}
	strict := true
	if in.StrictLeakage != nil {
		strict = *in.StrictLeakage
	}

	return pipeline.Options{
		RaceCtx: raceinput.RaceContext{
			RaceID:       in.RaceID,
			Course:       in.Course,
			DecisionTime: in.DecisionTime,
			Distance:     in.Distance,
			Going:        in.Going,
			ClassLevel:   in.ClassLevel,
			Surface:      in.Surface,
			FieldSize:    in.FieldSize,
			RaceType:     in.RaceType,
			AgeBand:        in.AgeBand,
			SexRestriction: in.SexRestriction,
		},
		MarketCtx: raceinput.MarketContext{
			RaceID:            in.RaceID,
			SnapshotTimestamp: in.SnapshotTime,
			Runners:           marketRunners,
		},
		Runners:         runners,
		Mode:            mode,
		StrictLeakage:   strict,
		HistoricalStats: historicalStats,
	}, nil
}
